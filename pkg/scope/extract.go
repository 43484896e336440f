package scope

import (
	"fmt"
	"regexp"
	"strings"

	"go.starlark.net/syntax"
)

// fileOptions is the Starlark dialect used for config modules and bodies.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Body is the isolated statement sequence of a config function.
type Body struct {
	// Filename is the module the function was defined in.
	Filename string

	// FuncName is the name of the config function.
	FuncName string

	// Source is the dedented body text.
	Source string

	// LineOffset is the number of module lines preceding the body's first
	// line. Positions in Stmts already account for it.
	LineOffset int

	// Stmts are the parsed statements of the body.
	Stmts []syntax.Stmt
}

const identPattern = `[A-Za-z_][A-Za-z0-9_]*`

// ExtractBody parses src, locates the top-level function funcName and
// returns its body, re-parsed so that reported line numbers match src.
func ExtractBody(filename string, src []byte, funcName string) (*Body, error) {
	f, err := fileOptions.Parse(filename, src, 0)
	if err != nil {
		return nil, newError(KindSyntax, err, "cannot parse %s", filename)
	}
	def, err := findDef(f, funcName)
	if err != nil {
		return nil, err
	}
	return extractDef(filename, src, def)
}

func findDef(f *syntax.File, name string) (*syntax.DefStmt, error) {
	for _, stmt := range f.Stmts {
		if def, ok := stmt.(*syntax.DefStmt); ok && def.Name.Name == name {
			return def, nil
		}
	}
	return nil, newError(KindSyntax, nil, "function %q not found in %s", name, f.Path)
}

func signaturePattern(name string) *regexp.Regexp {
	args := fmt.Sprintf(`%s(?:\s*,\s*%s)*(?:\s*,)?`, identPattern, identPattern)
	return regexp.MustCompile(fmt.Sprintf(
		`(?m)^[ \t]*def[ \t]+%s[ \t]*\(\s*(?:%s)?\s*\)[ \t]*:[ \t]*(?:#[^\n]*)?\n`,
		regexp.QuoteMeta(name), args))
}

func extractDef(filename string, src []byte, def *syntax.DefStmt) (*Body, error) {
	name := def.Name.Name
	start, end := def.Span()

	lines := strings.SplitAfter(string(src), "\n")
	first := int(start.Line) - 1
	last := int(end.Line)
	if first < 0 || first >= len(lines) {
		return nil, newError(KindSourceExtraction, nil, "cannot locate source of %q", name)
	}
	if last > len(lines) {
		last = len(lines)
	}
	text := strings.Join(lines[first:last], "")
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	loc := signaturePattern(name).FindStringIndex(text)
	if loc == nil {
		return nil, newError(KindSourceExtraction, nil,
			"cannot find the signature of %q; the body must start on the line after it", name)
	}

	offset := first + strings.Count(text[:loc[1]], "\n")
	raw := text[loc[1]:]

	// The body keeps its indentation under a synthetic block header on the
	// signature line, so positions match src in both line and column.
	padded := strings.Repeat("\n", offset-1) + "if True:\n" + raw
	f, err := fileOptions.Parse(filename, padded, 0)
	if err != nil {
		return nil, newError(KindSourceExtraction, err, "cannot re-parse the body of %q", name)
	}
	block, ok := f.Stmts[0].(*syntax.IfStmt)
	if len(f.Stmts) != 1 || !ok {
		return nil, newError(KindSourceExtraction, nil, "cannot isolate the body of %q", name)
	}
	return &Body{
		Filename:   filename,
		FuncName:   name,
		Source:     dedentBody(raw),
		LineOffset: offset,
		Stmts:      block.True,
	}, nil
}

// dedentBody strips the indentation of the first code line from every line.
// Lines indented less lose only their common prefix.
func dedentBody(body string) string {
	lines := strings.Split(body, "\n")
	indent := ""
	for _, l := range lines {
		trimmed := strings.TrimLeft(l, " \t")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		indent = l[:len(l)-len(trimmed)]
		break
	}
	for i, l := range lines {
		lines[i] = dedentLine(l, indent)
	}
	return strings.Join(lines, "\n")
}

func dedentLine(line, indent string) string {
	i := 0
	for i < len(line) && i < len(indent) && line[i] == indent[i] {
		i++
	}
	return line[i:]
}

// checkSignature returns the parameter names of def. Only plain named
// parameters are allowed.
func checkSignature(def *syntax.DefStmt) ([]string, error) {
	names := make([]string, 0, len(def.Params))
	for _, p := range def.Params {
		switch p := p.(type) {
		case *syntax.Ident:
			names = append(names, p.Name)
		case *syntax.BinaryExpr:
			return nil, newError(KindSignature, nil,
				"config function %q: default values are not allowed (parameter %s)",
				def.Name.Name, paramName(p.X)).WithPos(p.OpPos.String())
		case *syntax.UnaryExpr:
			start, _ := p.Span()
			if p.X == nil {
				return nil, newError(KindSignature, nil,
					"config function %q: keyword-only marker is not allowed", def.Name.Name).WithPos(start.String())
			}
			return nil, newError(KindSignature, nil,
				"config function %q: variadic parameter %s%s is not allowed",
				def.Name.Name, p.Op, paramName(p.X)).WithPos(start.String())
		default:
			start, _ := p.Span()
			return nil, newError(KindSignature, nil,
				"config function %q: unsupported parameter", def.Name.Name).WithPos(start.String())
		}
	}
	return names, nil
}

func paramName(e syntax.Expr) string {
	if id, ok := e.(*syntax.Ident); ok {
		return id.Name
	}
	return "?"
}
