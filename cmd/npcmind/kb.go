package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcmind/internal/app"
	"github.com/MrWong99/npcmind/internal/config"
	"github.com/MrWong99/npcmind/internal/dialogue"
	"github.com/MrWong99/npcmind/internal/store"
	"github.com/MrWong99/npcmind/pkg/knowledge"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

func newKBCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Inspect the persisted knowledge",
		Long: `Reads the snapshot saved by serve from the configured store.

Subcommands:
  dump    print stored triples and facts
  query   prove a goal against the stored facts and configured rules`,
	}
	cmd.AddCommand(newKBDumpCmd(root), newKBQueryCmd(root))
	return cmd
}

func newKBDumpCmd(root *rootOptions) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print stored triples and facts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kb, r, err := loadWorld(cmd.Context(), root.configPath, false)
			if err != nil {
				return err
			}
			dump(cmd.OutOrStdout(), kb, r, strings.ToLower(subject))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "only show knowledge about this entity")
	return cmd
}

func newKBQueryCmd(root *rootOptions) *cobra.Command {
	var (
		depth   int
		explain bool
	)
	cmd := &cobra.Command{
		Use:   "query <goal>",
		Short: "Prove a goal such as \"sells(gerald, bread)\"",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal, err := reasoning.ParseFormula(args[0])
			if err != nil {
				return fmt.Errorf("parse goal: %w", err)
			}
			_, r, err := loadWorld(cmd.Context(), root.configPath, true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			v, proved := r.BackwardChain(goal, depth)
			if !proved {
				fmt.Fprintf(out, "%s: unknown\n", goal)
				return nil
			}
			fmt.Fprintf(out, "%s: %s\n", goal, v)
			if explain {
				for _, step := range r.Explain(goal, depth) {
					fmt.Fprintf(out, "  %s\n", step)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", config.DefaultMaxDepth, "maximum backward chaining depth")
	cmd.Flags().BoolVar(&explain, "explain", false, "print the proof")
	return cmd
}

// loadWorld restores the stored snapshot into a fresh knowledge base and
// reasoner. With rules set, the configured rules file is loaded and
// forward chaining is run.
func loadWorld(ctx context.Context, configPath string, rules bool) (*knowledge.Base, *reasoning.Reasoner, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	s, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, errors.New("store.backend is none; nothing is persisted")
	}
	defer s.Close()

	snap, err := s.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	rc := cfg.Reasoning
	kb := knowledge.New(knowledge.WithHopDiscount(rc.HopDiscount))
	r := reasoning.New(
		reasoning.WithEmbeddings(reasoning.NewEmbeddings(rc.EmbeddingDimensions)),
		reasoning.WithTruthThreshold(rc.TruthThreshold),
		reasoning.WithDerivedDiscount(rc.DerivedDiscount),
		reasoning.WithFunctional(dialogue.FunctionalPredicates...),
	)
	if err := store.Restore(snap, kb, r); err != nil {
		return nil, nil, err
	}

	if rules && rc.Rules != "" {
		f, err := os.Open(rc.Rules)
		if err != nil {
			return nil, nil, fmt.Errorf("open rules: %w", err)
		}
		_, _, err = r.LoadRules(f)
		f.Close()
		if err != nil {
			slog.Warn("rules file has invalid entries", "path", rc.Rules, "err", err)
		}
		r.ForwardChain(rc.MaxIterations)
	}
	return kb, r, nil
}

func dump(out io.Writer, kb *knowledge.Base, r *reasoning.Reasoner, subject string) {
	triples := kb.All()
	facts := r.Facts()
	if subject != "" {
		triples = kb.Query(subject, knowledge.Wildcard, knowledge.Wildcard)
		facts = r.FactsAbout(subject)
	}

	fmt.Fprintf(out, "Triples (%d)\n", len(triples))
	for _, t := range triples {
		fmt.Fprintf(out, "  %s %s %s  [%.2f]\n", t.Subject, t.Predicate, t.Object, t.Confidence)
	}

	slices.SortFunc(facts, func(a, b reasoning.Fact) int { return strings.Compare(a.String(), b.String()) })
	fmt.Fprintf(out, "Facts (%d)\n", len(facts))
	for _, f := range facts {
		fmt.Fprintf(out, "  %s  [truth %.2f, confidence %.2f]\n", f, f.Value.Truth, f.Value.Confidence)
	}
}
