package service

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/superdesk/legalarchive/common/models"
)

// EligibilityRule is a CEL expression over `item` deciding whether an item
// may enter the legal archive
type EligibilityRule struct {
	expr string
	prg  cel.Program
}

// NewEligibilityRule compiles expr
func NewEligibilityRule(expr string) (*EligibilityRule, error) {
	env, err := cel.NewEnv(cel.Variable("item", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &EligibilityRule{expr: expr, prg: prg}, nil
}

// String returns the source expression
func (r *EligibilityRule) String() string {
	return r.expr
}

// Allows evaluates the rule against doc
func (r *EligibilityRule) Allows(doc models.Document) (bool, error) {
	item, err := toPlain(doc)
	if err != nil {
		return false, err
	}

	out, _, err := r.prg.Eval(map[string]any{"item": item})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	return allowed, nil
}

// toPlain round-trips the document through JSON so CEL only sees strings,
// float64s, bools, slices and maps
func toPlain(doc models.Document) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item for rule: %w", err)
	}
	var plain map[string]any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item for rule: %w", err)
	}
	return plain, nil
}
