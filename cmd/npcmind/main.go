// Command npcmind serves and inspects hybrid pattern/LLM NPC dialogue.
//
//	npcmind serve            run the HTTP API
//	npcmind chat <npc>       talk to one NPC in the terminal
//	npcmind check            validate config, brain and rule files
//	npcmind kb dump|query    inspect the persisted knowledge
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcmind/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "npcmind: %v\n", err)
		return 1
	}
	return 0
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "npcmind",
		Short: "Hybrid pattern and LLM dialogue for game NPCs",
		Long: `npcmind answers players on behalf of non-player characters.

Pattern categories answer what they can and an LLM fills the gaps. A
reasoner checks every reply against what the NPC knows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newCheckCmd(opts),
		newKBCmd(opts),
		newFeedbackCmd(opts),
	)
	return root
}

// loadConfig loads the config file and points at the likely mistake when
// it is missing.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found, pass --config or create one", path)
	}
	return cfg, err
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
