package audience

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BinaryOp compares two resolved values.
type BinaryOp func(left, right any) bool

// Evaluator evaluates audience rules with optional custom operators.
type Evaluator struct {
	customOps map[string]BinaryOp
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCustomOperator registers a binary operator used as "left name right".
func WithCustomOperator(name string, fn BinaryOp) Option {
	return func(e *Evaluator) {
		if e.customOps == nil {
			e.customOps = make(map[string]BinaryOp)
		}
		e.customOps[name] = fn
	}
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateJSON evaluates rule against a JSON document.
func (e *Evaluator) EvaluateJSON(rule string, doc []byte) (bool, error) {
	return e.evaluate(strings.TrimSpace(rule), doc)
}

// Evaluate evaluates rule against vars, which are marshaled to JSON.
func (e *Evaluator) Evaluate(rule string, vars map[string]any) (bool, error) {
	doc, err := json.Marshal(vars)
	if err != nil {
		return false, fmt.Errorf("marshal vars: %w", err)
	}
	return e.EvaluateJSON(rule, doc)
}

// Eval evaluates rule against vars with the default evaluator.
func Eval(rule string, vars map[string]any) (bool, error) {
	return New().Evaluate(rule, vars)
}

var builtinOps = []struct {
	op      string
	compare BinaryOp
}{
	// Longer operators first to avoid partial matches.
	{"==", compareEquals},
	{"!=", compareNotEquals},
	{">=", compareGTE},
	{"<=", compareLTE},
	{">", compareGT},
	{"<", compareLT},
	{" contains ", compareContains},
	{" like ", compareLike},
}

func (e *Evaluator) evaluate(rule string, doc []byte) (bool, error) {
	if rule == "" {
		return false, nil
	}

	if inner, ok := strings.CutPrefix(rule, "not "); ok {
		result, err := e.evaluate(strings.TrimSpace(inner), doc)
		return !result && err == nil, err
	}
	if inner, ok := strings.CutPrefix(rule, "!"); ok && !strings.HasPrefix(inner, "=") {
		result, err := e.evaluate(strings.TrimSpace(inner), doc)
		return !result && err == nil, err
	}

	if left, right, ok := strings.Cut(rule, " and "); ok {
		l, err := e.evaluate(strings.TrimSpace(left), doc)
		if err != nil {
			return false, err
		}
		r, err := e.evaluate(strings.TrimSpace(right), doc)
		if err != nil {
			return false, err
		}
		return l && r, nil
	}

	if left, right, ok := strings.Cut(rule, " or "); ok {
		l, err := e.evaluate(strings.TrimSpace(left), doc)
		if err != nil {
			return false, err
		}
		r, err := e.evaluate(strings.TrimSpace(right), doc)
		if err != nil {
			return false, err
		}
		return l || r, nil
	}

	for _, op := range builtinOps {
		if left, right, ok := strings.Cut(rule, op.op); ok {
			return compareSides(rule, left, right, doc, op.compare)
		}
	}

	for name, fn := range e.customOps {
		if left, right, ok := strings.Cut(rule, " "+name+" "); ok {
			return compareSides(rule, left, right, doc, fn)
		}
	}

	return IsTruthy(Resolve(rule, doc)), nil
}

func compareSides(rule, left, right string, doc []byte, fn BinaryOp) (bool, error) {
	left, right = strings.TrimSpace(left), strings.TrimSpace(right)
	if left == "" || right == "" {
		return false, fmt.Errorf("malformed rule %q: missing operand", rule)
	}
	return fn(Resolve(left, doc), Resolve(right, doc)), nil
}
