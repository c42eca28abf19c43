package actions

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/driftlab/lineage/internal/runner"
	"github.com/driftlab/lineage/pkg/types"
)

// SkipEvaluator compiles caller-supplied skip expressions into SkipFuncs.
// Expressions are compiled once and cached for reuse across batches.
type SkipEvaluator struct {
	compiled map[string]*vm.Program
	mu       sync.RWMutex

	// MaxExpressionLength limits expression size for security (default: 4096)
	MaxExpressionLength int
}

// NewSkipEvaluator creates a new expression evaluator.
func NewSkipEvaluator() *SkipEvaluator {
	return &SkipEvaluator{
		compiled:            make(map[string]*vm.Program),
		MaxExpressionLength: 4096,
	}
}

// SkipFunc builds a predicate that skips a node (with the given reason) when
// the expression evaluates to true against the node's environment. The
// environment exposes key, name, resource_type, package_name and
// change_status. An empty expression skips nothing; a compile error is
// reported eagerly.
func (e *SkipEvaluator) SkipFunc(expression, reason string) (runner.SkipFunc, error) {
	if expression == "" {
		return func(*types.Node) string { return "" }, nil
	}
	if len(expression) > e.MaxExpressionLength {
		return nil, fmt.Errorf("expression exceeds maximum length of %d characters", e.MaxExpressionLength)
	}
	if reason == "" {
		reason = "excluded by skip expression"
	}

	prog, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	return func(node *types.Node) string {
		result, err := expr.Run(prog, nodeEnv(node))
		if err != nil {
			// An expression that fails at runtime does not exclude
			// the node; eligibility errors surface via the run itself.
			return ""
		}
		if matched, ok := result.(bool); ok && matched {
			return reason
		}
		return ""
	}, nil
}

func (e *SkipEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	prog, ok := e.compiled[expression]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(expression, expr.Env(nodeEnv(&types.Node{})))
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}

	e.mu.Lock()
	e.compiled[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

func nodeEnv(node *types.Node) map[string]any {
	return map[string]any{
		"key":           node.Key,
		"name":          node.Name,
		"resource_type": node.ResourceType,
		"package_name":  node.PackageName,
		"change_status": string(node.ChangeStatus),
	}
}
