package contract

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/roach88/porta/internal/catalog"
	"github.com/roach88/porta/internal/rules"
)

// Completion is a task's tri-state progress marker. The numeric values are
// persisted and must not change.
type Completion int

const (
	Pending   Completion = 0
	Completed Completion = 1
	// Failed marks a task that was attempted and rejected, as distinct from
	// one never tried.
	Failed Completion = 2
)

func (c Completion) String() string {
	switch c {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("completion(%d)", int(c))
}

func (c Completion) valid() bool { return c >= Pending && c <= Failed }

// Task is one validatable step of a contract.
type Task struct {
	ID                  string
	RuleID              string
	DescriptionTemplate string
	Description         string
	Params              rules.Params
	Completion          Completion

	// DisplayHint is copied from the rule for display only.
	DisplayHint string

	registry *rules.Registry
}

// NewTask instantiates def with override params applied on top of its
// defaults.
func NewTask(def catalog.Definition, overrides rules.Params, reg *rules.Registry) *Task {
	params := def.DefaultParams.Merge(overrides)
	t := &Task{
		ID:                  def.ID,
		RuleID:              def.RuleID,
		DescriptionTemplate: def.DescriptionTemplate,
		Description:         Interpolate(def.DescriptionTemplate, params),
		Params:              params,
		registry:            reg,
	}
	if rule, ok := reg.Lookup(def.RuleID); ok {
		t.DisplayHint = rule.DisplayHint
	}
	return t
}

// Validate reports whether input satisfies the task's rule. It does not
// change the task.
func (t *Task) Validate(input string) bool {
	return t.registry.Validate(t.RuleID, input, t.Params)
}

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// Interpolate replaces {key} placeholders with params[key]. Missing, empty
// and zero values render as the empty string.
func Interpolate(template string, params rules.Params) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		return paramText(params[m[1:len(m)-1]])
	})
}

func paramText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if !val {
			return ""
		}
	case int:
		if val == 0 {
			return ""
		}
	case int64:
		if val == 0 {
			return ""
		}
	case float64:
		if val == 0 {
			return ""
		}
	case json.Number:
		if f, err := val.Float64(); err == nil && f == 0 {
			return ""
		}
		return val.String()
	}
	return fmt.Sprint(v)
}
