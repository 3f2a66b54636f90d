package catalog

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEnv is the environment visible to expr preconditions, e.g.
//
//	drives.fatigue < 60 && items.water >= 1 && !tags.sheltered
type ExprEnv struct {
	Drives map[string]float64 `expr:"drives"`
	Items  map[string]int     `expr:"items"`
	Tags   map[string]bool    `expr:"tags"`
}

func compileExpr(src string) (*vm.Program, error) {
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	prog, err := expr.Compile(src, expr.Env(ExprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	return prog, nil
}

// EvalExpr runs a compiled expr precondition. A runtime error counts as false
// and is returned for logging.
func EvalExpr(p *Precondition, env ExprEnv) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("precondition %q is not compiled", p.Expr)
	}
	out, err := expr.Run(p.program, env)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", p.Expr, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: non-boolean result %T", p.Expr, out)
	}
	return b, nil
}
