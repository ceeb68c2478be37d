package campaign

import (
	"fmt"
	"time"
)

// StepDefinition describes one entry of the step-definition registry: a step
// key, its offset from schedule creation, and the content template to request
// when the step dispatches.
type StepDefinition struct {
	Key        string
	Offset     time.Duration
	TemplateID string
}

// Registry is the fixed, ordered list of step definitions applied to every
// new schedule.
type Registry struct {
	defs []StepDefinition
}

// NewRegistry validates and builds a registry. Keys must be unique and
// offsets must be non-negative and non-decreasing.
func NewRegistry(defs []StepDefinition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("registry requires at least one step definition")
	}
	seen := make(map[string]bool, len(defs))
	var prev time.Duration
	for i, d := range defs {
		if d.Key == "" {
			return nil, fmt.Errorf("step %d: key is required", i)
		}
		if d.TemplateID == "" {
			return nil, fmt.Errorf("step %q: template id is required", d.Key)
		}
		if seen[d.Key] {
			return nil, fmt.Errorf("step %q: duplicate key", d.Key)
		}
		seen[d.Key] = true
		if d.Offset < 0 {
			return nil, fmt.Errorf("step %q: negative offset", d.Key)
		}
		if d.Offset < prev {
			return nil, fmt.Errorf("step %q: offsets must be non-decreasing", d.Key)
		}
		prev = d.Offset
	}
	return &Registry{defs: defs}, nil
}

// DefaultRegistry returns the built-in day 0/2/5/10 ladder.
func DefaultRegistry() *Registry {
	r, err := NewRegistry([]StepDefinition{
		{Key: "day_0", Offset: 0, TemplateID: "initial_invite"},
		{Key: "day_2", Offset: 2 * 24 * time.Hour, TemplateID: "reminder_1"},
		{Key: "day_5", Offset: 5 * 24 * time.Hour, TemplateID: "reminder_2"},
		{Key: "day_10", Offset: 10 * 24 * time.Hour, TemplateID: "final_nudge"},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// Definitions returns the ordered step definitions.
func (r *Registry) Definitions() []StepDefinition {
	return r.defs
}
