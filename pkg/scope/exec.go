package scope

import (
	"fmt"
	"sync/atomic"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

type control int

const (
	ctlNone control = iota
	ctlBreak
	ctlContinue
)

// augmentedOps maps augmented assignment tokens to their binary operator.
var augmentedOps = map[syntax.Token]syntax.Token{
	syntax.PLUS_EQ:       syntax.PLUS,
	syntax.MINUS_EQ:      syntax.MINUS,
	syntax.STAR_EQ:       syntax.STAR,
	syntax.SLASH_EQ:      syntax.SLASH,
	syntax.SLASHSLASH_EQ: syntax.SLASHSLASH,
	syntax.PERCENT_EQ:    syntax.PERCENT,
	syntax.AMP_EQ:        syntax.AMP,
	syntax.PIPE_EQ:       syntax.PIPE,
	syntax.CIRCUMFLEX_EQ: syntax.CIRCUMFLEX,
	syntax.LTLT_EQ:       syntax.LTLT,
	syntax.GTGT_EQ:       syntax.GTGT,
}

// validateBody rejects statements a config body may not contain. Bodies are
// straight-line configuration code: no nested definitions, loads, returns
// or while loops.
func validateBody(stmts []syntax.Stmt) error {
	return validateStmts(stmts, 0)
}

func validateStmts(stmts []syntax.Stmt, loops int) error {
	for _, stmt := range stmts {
		start, _ := stmt.Span()
		switch s := stmt.(type) {
		case *syntax.AssignStmt:
			if s.Op != syntax.EQ {
				if _, ok := augmentedOps[s.Op]; !ok {
					return newError(KindSyntax, nil, "unsupported assignment operator %s", s.Op).WithPos(start.String())
				}
			}
			if err := validateTarget(s.LHS, s.Op != syntax.EQ); err != nil {
				return err
			}
		case *syntax.ExprStmt:
		case *syntax.IfStmt:
			if err := validateStmts(s.True, loops); err != nil {
				return err
			}
			if err := validateStmts(s.False, loops); err != nil {
				return err
			}
		case *syntax.ForStmt:
			if err := validateTarget(s.Vars, false); err != nil {
				return err
			}
			if err := validateStmts(s.Body, loops+1); err != nil {
				return err
			}
		case *syntax.BranchStmt:
			if s.Token != syntax.PASS && loops == 0 {
				return newError(KindSyntax, nil, "%s outside loop", s.Token).WithPos(start.String())
			}
		case *syntax.DefStmt:
			return newError(KindSyntax, nil, "nested function definitions are not allowed in a config body").WithPos(start.String())
		case *syntax.LoadStmt:
			return newError(KindSyntax, nil, "load is not allowed in a config body").WithPos(start.String())
		case *syntax.ReturnStmt:
			return newError(KindSyntax, nil, "return is not allowed in a config body").WithPos(start.String())
		case *syntax.WhileStmt:
			return newError(KindSyntax, nil, "while loops are not allowed in a config body").WithPos(start.String())
		default:
			return newError(KindSyntax, nil, "unsupported statement %T", stmt).WithPos(start.String())
		}
	}
	return nil
}

func validateTarget(e syntax.Expr, augmented bool) error {
	start, _ := e.Span()
	switch t := e.(type) {
	case *syntax.Ident, *syntax.IndexExpr, *syntax.DotExpr:
		return nil
	case *syntax.ParenExpr:
		return validateTarget(t.X, augmented)
	case *syntax.TupleExpr:
		if augmented {
			break
		}
		for _, x := range t.List {
			if err := validateTarget(x, false); err != nil {
				return err
			}
		}
		return nil
	case *syntax.ListExpr:
		if augmented {
			break
		}
		for _, x := range t.List {
			if err := validateTarget(x, false); err != nil {
				return err
			}
		}
		return nil
	}
	return newError(KindSyntax, nil, "cannot assign to this expression").WithPos(start.String())
}

// interpreter executes a validated body against a namespace. Expressions
// are evaluated by Starlark; statements and writes are handled here so that
// every write goes through the namespace.
type interpreter struct {
	ns     *namespace
	thread *starlark.Thread

	// stopped is set when the evaluation times out.
	stopped atomic.Pointer[string]
}

// cancel stops the body at the next statement or Starlark instruction.
func (in *interpreter) cancel(reason string) {
	in.stopped.CompareAndSwap(nil, &reason)
	in.thread.Cancel(reason)
}

func (in *interpreter) execStmts(stmts []syntax.Stmt) (control, error) {
	for _, stmt := range stmts {
		if reason := in.stopped.Load(); reason != nil {
			return ctlNone, in.wrap(stmt, fmt.Errorf("Starlark computation cancelled: %s", *reason))
		}
		ctl, err := in.execStmt(stmt)
		if err != nil {
			return ctlNone, err
		}
		if err := in.ns.restoreFixed(); err != nil {
			return ctlNone, in.wrap(stmt, err)
		}
		if ctl != ctlNone {
			return ctl, nil
		}
	}
	return ctlNone, nil
}

func (in *interpreter) execStmt(stmt syntax.Stmt) (control, error) {
	switch s := stmt.(type) {
	case *syntax.AssignStmt:
		return ctlNone, in.execAssign(s)

	case *syntax.ExprStmt:
		_, err := in.eval(s.X)
		return ctlNone, err

	case *syntax.IfStmt:
		cond, err := in.eval(s.Cond)
		if err != nil {
			return ctlNone, err
		}
		if cond.Truth() {
			return in.execStmts(s.True)
		}
		return in.execStmts(s.False)

	case *syntax.ForStmt:
		return ctlNone, in.execFor(s)

	case *syntax.BranchStmt:
		switch s.Token {
		case syntax.BREAK:
			return ctlBreak, nil
		case syntax.CONTINUE:
			return ctlContinue, nil
		}
		return ctlNone, nil
	}
	start, _ := stmt.Span()
	return ctlNone, newError(KindSyntax, nil, "unsupported statement %T", stmt).WithPos(start.String())
}

func (in *interpreter) execAssign(s *syntax.AssignStmt) error {
	rhs, err := in.eval(s.RHS)
	if err != nil {
		return err
	}
	if s.Op == syntax.EQ {
		return in.assign(s.LHS, rhs)
	}
	old, err := in.eval(s.LHS)
	if err != nil {
		return err
	}
	v, err := starlark.Binary(augmentedOps[s.Op], old, rhs)
	if err != nil {
		return in.wrap(s, err)
	}
	return in.assign(s.LHS, v)
}

func (in *interpreter) execFor(s *syntax.ForStmt) error {
	x, err := in.eval(s.X)
	if err != nil {
		return err
	}
	iter := starlark.Iterate(x)
	if iter == nil {
		return in.wrap(s, fmt.Errorf("%s value is not iterable", x.Type()))
	}
	defer iter.Done()
	var elem starlark.Value
	for iter.Next(&elem) {
		if err := in.assign(s.Vars, elem); err != nil {
			return err
		}
		ctl, err := in.execStmts(s.Body)
		if err != nil {
			return err
		}
		if ctl == ctlBreak {
			break
		}
	}
	return nil
}

// assign performs a tracked write of v to the target expression.
func (in *interpreter) assign(lhs syntax.Expr, v starlark.Value) error {
	switch t := lhs.(type) {
	case *syntax.Ident:
		in.ns.set(t.Name, v)
		return nil

	case *syntax.ParenExpr:
		return in.assign(t.X, v)

	case *syntax.IndexExpr:
		obj, err := in.eval(t.X)
		if err != nil {
			return err
		}
		key, err := in.eval(t.Y)
		if err != nil {
			return err
		}
		switch o := obj.(type) {
		case starlark.HasSetKey:
			if err := o.SetKey(key, v); err != nil {
				return in.wrap(t, err)
			}
			return nil
		case starlark.HasSetIndex:
			i, err := starlark.AsInt32(key)
			if err != nil {
				return in.wrap(t, fmt.Errorf("%s index: %v", obj.Type(), err))
			}
			if i < 0 {
				i += o.Len()
			}
			if i < 0 || i >= o.Len() {
				return in.wrap(t, fmt.Errorf("%s index %s out of range", obj.Type(), key))
			}
			if err := o.SetIndex(i, v); err != nil {
				return in.wrap(t, err)
			}
			return nil
		}
		return in.wrap(t, fmt.Errorf("%s value does not support item assignment", obj.Type()))

	case *syntax.DotExpr:
		obj, err := in.eval(t.X)
		if err != nil {
			return err
		}
		o, ok := obj.(starlark.HasSetField)
		if !ok {
			return in.wrap(t, fmt.Errorf("%s value does not support field assignment", obj.Type()))
		}
		if err := o.SetField(t.Name.Name, v); err != nil {
			return in.wrap(t, err)
		}
		return nil

	case *syntax.TupleExpr:
		return in.unpack(t, t.List, v)

	case *syntax.ListExpr:
		return in.unpack(t, t.List, v)
	}
	return in.wrap(lhs, fmt.Errorf("cannot assign to this expression"))
}

func (in *interpreter) unpack(target syntax.Expr, targets []syntax.Expr, v starlark.Value) error {
	iter := starlark.Iterate(v)
	if iter == nil {
		return in.wrap(target, fmt.Errorf("got %s in sequence assignment", v.Type()))
	}
	var elems []starlark.Value
	var elem starlark.Value
	for iter.Next(&elem) {
		elems = append(elems, elem)
	}
	iter.Done()
	if len(elems) != len(targets) {
		return in.wrap(target, fmt.Errorf("cannot unpack %d values into %d targets", len(elems), len(targets)))
	}
	for i, t := range targets {
		if err := in.assign(t, elems[i]); err != nil {
			return err
		}
	}
	return nil
}

func (in *interpreter) eval(expr syntax.Expr) (starlark.Value, error) {
	v, err := starlark.EvalExprOptions(fileOptions, in.thread, expr, in.ns.env())
	if err != nil {
		return nil, in.wrap(expr, err)
	}
	return v, nil
}

func (in *interpreter) wrap(n syntax.Node, err error) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	start, _ := n.Span()
	return newError(KindExecution, err, "evaluation failed").WithPos(start.String())
}
