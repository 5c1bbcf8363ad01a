package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcmind/internal/brain"
	"github.com/MrWong99/npcmind/internal/config"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

// errCheckFailed is returned when check found problems. The details are
// already printed.
var errCheckFailed = errors.New("check failed")

func newCheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config, brain files and rule files",
		Long: `Loads everything serve would load without opening stores, caches or
providers, and reports every problem found. Malformed categories, rules and
facts are listed with their source. Exits non-zero on any problem.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, root)
		},
	}
}

func runCheck(cmd *cobra.Command, opts *rootOptions) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(out, "config: %v\n", err)
		return errCheckFailed
	}
	fmt.Fprintf(out, "config: ok (%d NPCs)\n", len(cfg.NPCs))

	problems := checkProviders(out, cfg)
	problems += checkBrain(cmd, out, cfg.Brain)
	problems += checkReasoning(out, cfg.Reasoning)

	if problems > 0 {
		fmt.Fprintf(out, "%d problem(s) found\n", problems)
		return errCheckFailed
	}
	fmt.Fprintln(out, "all checks passed")
	return nil
}

func checkProviders(out io.Writer, cfg *config.Config) int {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	problems := 0
	check := func(kind string, names []string, e config.ProviderEntry) {
		if e.Name == "" {
			return
		}
		if !slices.Contains(names, e.Name) {
			fmt.Fprintf(out, "providers: unknown %s provider %q\n", kind, e.Name)
			problems++
		}
	}
	check("llm", reg.LLMNames(), cfg.Providers.LLM)
	for _, e := range cfg.Providers.LLMFallbacks {
		check("llm", reg.LLMNames(), e)
	}
	check("embeddings", reg.EmbeddingsNames(), cfg.Providers.Embeddings)
	for _, e := range cfg.Providers.EmbeddingsFallbacks {
		check("embeddings", reg.EmbeddingsNames(), e)
	}
	if problems == 0 {
		fmt.Fprintln(out, "providers: ok")
	}
	return problems
}

func checkBrain(cmd *cobra.Command, out io.Writer, bc config.BrainConfig) int {
	e := brain.New()
	var (
		report brain.LoadReport
		err    error
	)
	if len(bc.Files) == 0 {
		report, err = e.LoadDefault()
	} else {
		report, err = e.LoadFiles(cmd.Context(), bc.Files...)
	}
	if err != nil {
		fmt.Fprintf(out, "brain: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "brain: %d file(s), %d categories\n", report.Files, report.Categories)
	for _, d := range report.Diagnostics {
		fmt.Fprintf(out, "  %s\n", d)
	}
	return len(report.Diagnostics)
}

func checkReasoning(out io.Writer, rc config.ReasoningConfig) int {
	problems := 0
	r := reasoning.New()
	if rc.Facts != "" {
		f, err := os.Open(rc.Facts)
		if err != nil {
			fmt.Fprintf(out, "facts: %v\n", err)
			return problems + 1
		}
		skipped, err := r.Load(f)
		f.Close()
		switch {
		case err != nil:
			fmt.Fprintf(out, "facts: %v\n", err)
			problems++
		case skipped > 0:
			fmt.Fprintf(out, "facts: %d malformed line(s) in %s\n", skipped, rc.Facts)
			problems += skipped
		default:
			fmt.Fprintf(out, "facts: %d loaded\n", len(r.Facts()))
		}
	}
	if rc.Rules != "" {
		f, err := os.Open(rc.Rules)
		if err != nil {
			fmt.Fprintf(out, "rules: %v\n", err)
			return problems + 1
		}
		rules, facts, err := r.LoadRules(f)
		f.Close()
		fmt.Fprintf(out, "rules: %d rules, %d facts\n", rules, facts)
		if err != nil {
			for _, e := range unwrapAll(err) {
				fmt.Fprintf(out, "  %v\n", e)
				problems++
			}
		}
	}
	return problems
}

// unwrapAll returns the errors joined into err, or err itself.
func unwrapAll(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
