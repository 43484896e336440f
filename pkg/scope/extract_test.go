package scope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/syntax"
)

func TestExtractBodyLineNumbers(t *testing.T) {
	src := `# leading comment
X = 1

def cfg(a,
        b):  # trailing comment
    # body comment
    c = a + b
    if c:
        d = 1
`
	body, err := ExtractBody("cfg.star", []byte(src), "cfg")
	require.NoError(t, err)

	assert.Equal(t, "cfg", body.FuncName)
	assert.Equal(t, 5, body.LineOffset)
	require.Len(t, body.Stmts, 2)

	start, _ := body.Stmts[0].Span()
	assert.Equal(t, int32(7), start.Line)
	assert.Equal(t, int32(5), start.Col)

	ifStmt, ok := body.Stmts[1].(*syntax.IfStmt)
	require.True(t, ok)
	inner, _ := ifStmt.True[0].Span()
	assert.Equal(t, int32(9), inner.Line)
	assert.Equal(t, int32(9), inner.Col)
}

func TestExtractBodyDedent(t *testing.T) {
	src := "def cfg():\n\t\ta = 1\n\t\tfor i in [1]:\n\t\t\tb = i\n"
	body, err := ExtractBody("cfg.star", []byte(src), "cfg")
	require.NoError(t, err)

	assert.Equal(t, "a = 1\nfor i in [1]:\n\tb = i\n", body.Source)
	assert.Len(t, body.Stmts, 2)
}

func TestExtractBodyNotFirstFunction(t *testing.T) {
	src := `
def first():
    a = 1

def second():
    b = 2
    c = 3
`
	body, err := ExtractBody("cfg.star", []byte(src), "second")
	require.NoError(t, err)
	require.Len(t, body.Stmts, 2)
	assert.True(t, strings.HasPrefix(body.Source, "b = 2"))
}

func TestExtractBodyOnSignatureLine(t *testing.T) {
	_, err := ExtractBody("cfg.star", []byte("def cfg(): a = 1\n"), "cfg")
	require.Error(t, err)
	assert.Equal(t, KindSourceExtraction, KindOf(err))
}

func TestExtractBodyParseError(t *testing.T) {
	_, err := ExtractBody("cfg.star", []byte("def cfg(:\n    a = 1\n"), "cfg")
	require.Error(t, err)
	assert.Equal(t, KindSyntax, KindOf(err))
}

func TestDedentLine(t *testing.T) {
	tests := []struct {
		line, indent, want string
	}{
		{"    a = 1", "    ", "a = 1"},
		{"  # short", "    ", "# short"},
		{"        deeper", "    ", "    deeper"},
		{"\tx", "    ", "\tx"},
		{"", "    ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dedentLine(tt.line, tt.indent), "line %q", tt.line)
	}
}
