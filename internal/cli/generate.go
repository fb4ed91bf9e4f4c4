package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/porta/internal/contract"
	"github.com/roach88/porta/internal/generator"
	"github.com/roach88/porta/internal/rules"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	Seed       string
	GenVersion int
}

// GeneratedTask is one task of a generated contract.
type GeneratedTask struct {
	ID          string       `json:"id"`
	RuleID      string       `json:"rule_id"`
	Description string       `json:"description"`
	Params      rules.Params `json:"params,omitempty"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate <easy|medium|hard>",
		Short: "Print the tasks a seed produces",
		Long: `Print the task list generated for a difficulty and seed without starting
a session. The same difficulty, seed and generator version always produce
the same tasks.

Example:
  porta generate medium --seed abc123
  porta generate hard --seed abc123 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Seed, "seed", "", "contract seed (random when empty)")
	cmd.Flags().IntVar(&opts.GenVersion, "gen-version", generator.CurrentGenVersion, "generator version")
	return cmd
}

func runGenerate(opts *GenerateOptions, arg string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	level, err := contract.ParseDifficulty(arg)
	if err != nil {
		return report(f, "generate", err)
	}
	factory, err := contractFactory(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load task catalog", err)
	}
	gen := factory.Generator()

	var sel []generator.Selection
	if opts.Seed == "" {
		sel, err = gen.ForDifficulty(level)
	} else {
		sel, err = gen.ForSeed(level, opts.Seed, opts.GenVersion)
	}
	if err != nil {
		return report(f, "generate", err)
	}

	tasks := make([]GeneratedTask, 0, len(sel))
	lines := make([]string, 0, len(sel)+1)
	lines = append(lines, fmt.Sprintf("%s contract, seed %q, generator v%d", level, opts.Seed, opts.GenVersion))
	for i, s := range sel {
		t := GeneratedTask{
			ID:          s.Definition.ID,
			RuleID:      s.Definition.RuleID,
			Description: contract.Interpolate(s.Definition.DescriptionTemplate, s.Params),
			Params:      s.Params,
		}
		tasks = append(tasks, t)
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", i+1, t.ID, t.Description))
	}
	return f.Success(map[string]any{
		"difficulty":  level,
		"seed":        opts.Seed,
		"gen_version": opts.GenVersion,
		"tasks":       tasks,
	}, lines...)
}
