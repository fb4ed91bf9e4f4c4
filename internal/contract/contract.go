// Package contract models a contract: an ordered list of tasks, a cursor,
// and an expiry.
//
// A seeded contract is regenerated from (difficulty, seed, genVersion) when
// restored from a snapshot, and only progress is overlaid from the snapshot.
// Unseeded contracts come from older clients and are restored verbatim.
package contract

import (
	"time"

	"github.com/roach88/porta/internal/generator"
	"github.com/roach88/porta/internal/rules"
)

// Difficulty is the contract's composition level.
type Difficulty = generator.Difficulty

const (
	Easy   = generator.Easy
	Medium = generator.Medium
	Hard   = generator.Hard
)

// ParseDifficulty validates s as a difficulty.
func ParseDifficulty(s string) (Difficulty, error) {
	return generator.ParseDifficulty(s)
}

// DefaultExpiration applies when a contract is created without one.
const DefaultExpiration = 24 * time.Hour

// Contract is an ordered task list with a progression cursor.
//
// Invariant: 0 <= CurrentTaskIndex < len(Tasks).
type Contract struct {
	Tasks            []*Task
	CurrentTaskIndex int
	CreatedAt        time.Time
	Expiration       time.Duration
	Difficulty       Difficulty
	Seed             string
	GenVersion       int
}

// Factory builds contracts against one generator and rule registry.
type Factory struct {
	gen *generator.Generator
	reg *rules.Registry
}

// NewFactory returns a factory. Nil arguments fall back to the defaults.
func NewFactory(gen *generator.Generator, reg *rules.Registry) *Factory {
	if gen == nil {
		gen = generator.Default()
	}
	if reg == nil {
		reg = rules.Default()
	}
	return &Factory{gen: gen, reg: reg}
}

// Registry returns the rule registry tasks validate against.
func (f *Factory) Registry() *rules.Registry { return f.reg }

// Generator returns the task generator.
func (f *Factory) Generator() *generator.Generator { return f.gen }

// New creates a contract. A non-empty seed selects deterministic
// generation; an empty seed uses the non-reproducible fallback.
func (f *Factory) New(difficulty Difficulty, expiration time.Duration, seed string, genVersion int, now time.Time) (*Contract, error) {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	if genVersion <= 0 {
		genVersion = generator.CurrentGenVersion
	}

	var sel []generator.Selection
	var err error
	if seed != "" {
		sel, err = f.gen.ForSeed(difficulty, seed, genVersion)
	} else {
		sel, err = f.gen.ForDifficulty(difficulty)
	}
	if err != nil {
		return nil, err
	}

	tasks := make([]*Task, len(sel))
	for i, s := range sel {
		tasks[i] = NewTask(s.Definition, s.Params, f.reg)
	}

	return &Contract{
		Tasks:      tasks,
		CreatedAt:  now,
		Expiration: expiration,
		Difficulty: difficulty,
		Seed:       seed,
		GenVersion: genVersion,
	}, nil
}

// CurrentTask returns the task under the cursor.
func (c *Contract) CurrentTask() *Task {
	if c.CurrentTaskIndex < 0 || c.CurrentTaskIndex >= len(c.Tasks) {
		return nil
	}
	return c.Tasks[c.CurrentTaskIndex]
}

// ValidateTask checks input against task and records the outcome: completed
// on success, failed otherwise.
func (c *Contract) ValidateTask(task *Task, input string) bool {
	if task.Validate(input) {
		task.Completion = Completed
		return true
	}
	task.Completion = Failed
	return false
}

// IsCurrentTaskCompleted reports whether the task under the cursor is done.
func (c *Contract) IsCurrentTaskCompleted() bool {
	t := c.CurrentTask()
	return t != nil && t.Completion == Completed
}

// IsLast reports whether the cursor is on the final task.
func (c *Contract) IsLast() bool {
	return c.CurrentTaskIndex == len(c.Tasks)-1
}

// Advance moves the cursor forward. It returns false at the last task.
func (c *Contract) Advance() bool {
	if c.CurrentTaskIndex < len(c.Tasks)-1 {
		c.CurrentTaskIndex++
		return true
	}
	return false
}

// IsExpired compares wall-clock now against CreatedAt+Expiration.
func (c *Contract) IsExpired(now time.Time) bool {
	return now.After(c.CreatedAt.Add(c.Expiration))
}
