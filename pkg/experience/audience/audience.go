package audience

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Audience is a named segment definition.
type Audience struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name,omitempty"`
	Rule string `yaml:"rule" json:"rule"`
}

// ErrInvalidAudience is wrapped by audience validation errors.
var ErrInvalidAudience = errors.New("invalid audience")

// Validate checks that the audience has an id and a rule.
func (a Audience) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidAudience)
	}
	if a.Rule == "" {
		return fmt.Errorf("%w %s: missing rule", ErrInvalidAudience, a.ID)
	}
	return nil
}

// Match returns the ids of the audiences whose rule holds for doc, in input
// order.
func (e *Evaluator) Match(audiences []Audience, doc []byte) ([]string, error) {
	var ids []string
	for _, a := range audiences {
		ok, err := e.EvaluateJSON(a.Rule, doc)
		if err != nil {
			return nil, fmt.Errorf("audience %s: %w", a.ID, err)
		}
		if ok {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

// Match evaluates audiences against v, which is marshaled to JSON first.
func Match(audiences []Audience, v any) ([]string, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	return New().Match(audiences, doc)
}
