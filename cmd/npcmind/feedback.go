package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcmind/internal/feedback"
)

func newFeedbackCmd(root *rootOptions) *cobra.Command {
	var (
		worst int
		npc   string
	)
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Summarize player ratings per NPC",
		Long: `Reads the file configured as server.feedback_path and prints the
average rating of every NPC together with its lowest rated responses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if cfg.Server.FeedbackPath == "" {
				return errors.New("server.feedback_path is not set")
			}
			recs, skipped, err := feedback.NewFileStore(cfg.Server.FeedbackPath).Records()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if skipped > 0 {
				fmt.Fprintf(out, "skipped %d malformed line(s)\n", skipped)
			}
			summaries := feedback.Summarize(recs, worst)
			if len(summaries) == 0 {
				fmt.Fprintln(out, "no feedback recorded")
				return nil
			}
			for _, s := range summaries {
				if npc != "" && !strings.EqualFold(s.NPCID, npc) {
					continue
				}
				fmt.Fprintf(out, "%s: %d rating(s), average %.2f\n", s.NPCID, s.Count, s.Average)
				for _, r := range s.Worst {
					fmt.Fprintf(out, "  [%d] %q -> %q", r.Rating, r.PlayerInput, r.Response)
					if r.Comment != "" {
						fmt.Fprintf(out, " (%s)", r.Comment)
					}
					fmt.Fprintln(out)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&worst, "worst", 3, "lowest rated responses to list per NPC")
	cmd.Flags().StringVar(&npc, "npc", "", "only show this NPC")
	return cmd
}
