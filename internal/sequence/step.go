package sequence

import (
	"encoding/json"

	"github.com/hazyhaar/domdrive/internal/action"
	"github.com/hazyhaar/domdrive/internal/assert"
)

// Step kinds.
const (
	KindAction = "action"
	KindAssert = "assert"
	KindQuery  = "query"
)

// Step is one unit of a sequence, discriminated by Type. Only the fields of
// that kind are read:
//
//	{"type":"action","action":"fill","selector":"#q","value":"shoes"}
//	{"type":"assert","condition":{"url_contains":"/results"},"timeout":3000}
//	{"type":"query","query":"screenshot","params":{"full_page":true}}
type Step struct {
	Type string `json:"type"`

	Action   string `json:"action,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	URL      string `json:"url,omitempty"`

	Condition *assert.Condition `json:"condition,omitempty"`
	// Timeout is the assertion timeout in milliseconds.
	Timeout int `json:"timeout,omitempty"`

	Query  string          `json:"query,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ActionStep wraps an action as a step.
func ActionStep(a action.Action) Step {
	return Step{Type: KindAction, Action: a.Type, Selector: a.Selector, Value: a.Value, URL: a.URL}
}

// AssertStep wraps a condition as a step.
func AssertStep(c assert.Condition, timeoutMS int) Step {
	return Step{Type: KindAssert, Condition: &c, Timeout: timeoutMS}
}

// QueryStep wraps a named query as a step.
func QueryStep(name string, params json.RawMessage) Step {
	return Step{Type: KindQuery, Query: name, Params: params}
}

func (s Step) action() action.Action {
	return action.Action{Type: s.Action, Selector: s.Selector, Value: s.Value, URL: s.URL}
}

// kind is the metrics label for s.
func (s Step) kind() string {
	switch s.Type {
	case KindAction, KindAssert, KindQuery:
		return s.Type
	}
	return "unknown"
}
