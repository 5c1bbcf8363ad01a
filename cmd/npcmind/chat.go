package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcmind/internal/app"
	"github.com/MrWong99/npcmind/internal/config"
)

type chatOptions struct {
	*rootOptions
	player  string
	verbose bool
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "chat <npc>",
		Short: "Talk to one NPC in the terminal",
		Long: `Starts a conversation with the NPC and reads player lines from stdin.

Commands:
  /history   show the conversation so far
  /quit      say goodbye and exit (also on EOF)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.player, "player", "player", "player id used for the conversation")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "show response source and confidence")
	return cmd
}

func runChat(cmd *cobra.Command, opts *chatOptions, npcID string) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	// The terminal belongs to the conversation; only warnings are logged.
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), config.LogFormatText, level))

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Warn("shutdown", "err", err)
		}
	}()

	return chat(ctx, application, npcID, opts.player, opts.verbose, cmd.InOrStdin(), cmd.OutOrStdout())
}

// chat runs the read-respond loop until /quit or EOF.
func chat(ctx context.Context, a *app.App, npcID, player string, verbose bool, in io.Reader, out io.Writer) error {
	d := a.Director()
	npc, ok := d.NPC(npcID)
	if !ok {
		return fmt.Errorf("unknown NPC %q; configured: %s", npcID, strings.Join(d.NPCs(), ", "))
	}
	name := npc.Name

	fmt.Fprintf(out, "%s: %s\n", name, d.StartConversation(ctx, npcID, player))

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			fmt.Fprintf(out, "%s: %s\n", name, d.EndConversation(ctx, npcID, player))
			return nil
		case "/history":
			for _, ex := range d.History(npcID, player) {
				fmt.Fprintf(out, "  you: %s\n  %s: %s\n", ex.Player, name, ex.NPC)
			}
			continue
		}

		res := d.ContinueConversation(ctx, npcID, player, line)
		fmt.Fprintf(out, "%s: %s\n", name, res.Text)
		if verbose {
			fmt.Fprintf(out, "  [%s, confidence %.2f, consistent %t]\n", res.Source, res.Confidence, res.Consistent)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s: %s\n", name, d.EndConversation(ctx, npcID, player))
	return nil
}
