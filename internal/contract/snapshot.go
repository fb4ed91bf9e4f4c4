package contract

import (
	"time"

	"github.com/roach88/porta/internal/catalog"
	"github.com/roach88/porta/internal/generator"
	"github.com/roach88/porta/internal/rules"
)

// TaskSnapshot is the persisted form of a Task.
type TaskSnapshot struct {
	ID                  string       `json:"id"`
	RuleID              string       `json:"ruleId"`
	DescriptionTemplate string       `json:"descriptionTemplate"`
	Description         string       `json:"description"`
	DisplayHint         string       `json:"regex,omitempty"`
	Completed           Completion   `json:"completed"`
	Params              rules.Params `json:"params,omitempty"`
}

// Snapshot is the persisted form of a Contract. Times are epoch
// milliseconds; ExpirationTime is a duration in milliseconds.
type Snapshot struct {
	Difficulty       Difficulty     `json:"difficulty"`
	CurrentTaskIndex int            `json:"currentTaskIndex"`
	CreatedAt        int64          `json:"createdAt"`
	ExpirationTime   int64          `json:"expirationTime"`
	Tasks            []TaskSnapshot `json:"tasks"`
	Seed             string         `json:"seed,omitempty"`
	GenVersion       int            `json:"genVersion,omitempty"`
}

// Snapshot returns a deep copy of the contract's persisted form.
func (c *Contract) Snapshot() Snapshot {
	tasks := make([]TaskSnapshot, len(c.Tasks))
	for i, t := range c.Tasks {
		tasks[i] = TaskSnapshot{
			ID:                  t.ID,
			RuleID:              t.RuleID,
			DescriptionTemplate: t.DescriptionTemplate,
			Description:         t.Description,
			DisplayHint:         t.DisplayHint,
			Completed:           t.Completion,
			Params:              t.Params.Clone(),
		}
	}
	return Snapshot{
		Difficulty:       c.Difficulty,
		CurrentTaskIndex: c.CurrentTaskIndex,
		CreatedAt:        c.CreatedAt.UnixMilli(),
		ExpirationTime:   c.Expiration.Milliseconds(),
		Tasks:            tasks,
		Seed:             c.Seed,
		GenVersion:       c.GenVersion,
	}
}

// FromSnapshot restores a contract.
//
// With a seed, the task list is regenerated and each snapshot task overlays
// its completion, description and params onto the regenerated task with the
// same id. Regenerated tasks with no snapshot match keep their fresh state;
// snapshot tasks with no regenerated match are dropped. Without a seed the
// snapshot's tasks are rebuilt verbatim.
//
// Any failure returns an error matching ErrCorruptSnapshot.
func (f *Factory) FromSnapshot(snap Snapshot) (*Contract, error) {
	createdAt := time.UnixMilli(snap.CreatedAt)
	expiration := time.Duration(snap.ExpirationTime) * time.Millisecond
	if expiration <= 0 {
		expiration = DefaultExpiration
	}

	var c *Contract
	if snap.Seed != "" {
		if _, err := generator.ParseDifficulty(string(snap.Difficulty)); err != nil {
			return nil, corrupt(ErrCodeUnknownDifficulty, "difficulty %q", snap.Difficulty)
		}
		genVersion := snap.GenVersion
		if genVersion <= 0 {
			genVersion = generator.CurrentGenVersion
		}
		var err error
		c, err = f.New(snap.Difficulty, expiration, snap.Seed, genVersion, createdAt)
		if err != nil {
			return nil, corrupt(ErrCodeUnknownDifficulty, "regenerate: %v", err)
		}

		byID := make(map[string]*Task, len(c.Tasks))
		for _, t := range c.Tasks {
			byID[t.ID] = t
		}
		for _, st := range snap.Tasks {
			t, ok := byID[st.ID]
			if !ok {
				continue
			}
			if !st.Completed.valid() {
				return nil, corrupt(ErrCodeInvalidCompletion, "task %s completion %d", st.ID, int(st.Completed))
			}
			t.Completion = st.Completed
			if st.Description != "" {
				t.Description = st.Description
			}
			if st.Params != nil {
				t.Params = st.Params.Clone()
			}
		}
	} else {
		if len(snap.Tasks) == 0 {
			return nil, corrupt(ErrCodeNoTasks, "unseeded snapshot has no tasks")
		}
		tasks := make([]*Task, len(snap.Tasks))
		for i, st := range snap.Tasks {
			if st.ID == "" || st.RuleID == "" {
				return nil, corrupt(ErrCodeInvalidTask, "task %d missing id or rule", i)
			}
			if !st.Completed.valid() {
				return nil, corrupt(ErrCodeInvalidCompletion, "task %s completion %d", st.ID, int(st.Completed))
			}
			t := NewTask(catalog.Definition{
				ID:                  st.ID,
				RuleID:              st.RuleID,
				DescriptionTemplate: st.DescriptionTemplate,
			}, st.Params, f.reg)
			t.Completion = st.Completed
			t.Description = st.Description
			tasks[i] = t
		}
		c = &Contract{
			Tasks:      tasks,
			Expiration: expiration,
			Difficulty: snap.Difficulty,
			GenVersion: snap.GenVersion,
		}
	}

	if snap.CurrentTaskIndex < 0 || snap.CurrentTaskIndex >= len(c.Tasks) {
		return nil, corrupt(ErrCodeInvalidIndex, "index %d outside %d tasks", snap.CurrentTaskIndex, len(c.Tasks))
	}
	c.CurrentTaskIndex = snap.CurrentTaskIndex
	c.CreatedAt = createdAt
	return c, nil
}
