package args

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/markis/turing-chat/internal/config"
)

// Action selects what main does with the parsed arguments.
type Action string

const (
	ActionAsk           Action = "ask"
	ActionHelp          Action = "help"
	ActionHistoryList   Action = "history-list"
	ActionHistoryShow   Action = "history-show"
	ActionHistoryRename Action = "history-rename"
	ActionHistoryDelete Action = "history-delete"
)

// Arguments represents the command-line arguments structure.
type Arguments struct {
	Action         Action
	Prompts        []string
	Command        string
	Backend        string
	Model          string
	UsePlainText   bool
	ConversationID string
	New            bool
	LogLevel       string
	// Target is the conversation a history subcommand acts on.
	Target string
	Title  string
}

// Prompt joins the collected prompt parts into one message.
func (a Arguments) Prompt() string {
	return strings.Join(a.Prompts, "\n\n")
}

// ParseArgs parses argv and, for questions, stdin when it is piped.
// Predefined prompts from the config become subcommands.
func ParseArgs(ctx context.Context, cfg config.Config, argv []string, stdin *os.File) (Arguments, error) {
	args := Arguments{Action: ActionAsk}

	rootCmd := &cobra.Command{
		Use:   "turing-chat [command] [flags] [prompt]",
		Short: "Ask questions to a chat model or the Turing knowledge service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			if len(cmdArgs) > 0 {
				args.Prompts = append(args.Prompts, cmdArgs[0])
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&args.Backend, "backend", cfg.Backend, "Backend to ask: chat or turing")
	flags.StringVar(&args.Model, "model", cfg.Chat.Model, "Model used by the chat backend")
	flags.BoolVar(&args.UsePlainText, "plain", shouldUsePlainText(cfg), "Disable markdown rendering")
	flags.StringVarP(&args.ConversationID, "conversation", "c", "", "Continue the conversation with this ID")
	flags.BoolVarP(&args.New, "new", "n", false, "Start a new conversation instead of continuing the latest")
	flags.StringVar(&args.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")

	rootCmd.AddCommand(historyCommand(&args))

	for name, prompt := range cfg.Prompts {
		name := name
		if name == "history" || name == "help" {
			log.Warn().Str("prompt", name).Msg("prompt name clashes with a built-in command, skipping")
			continue
		}
		cmdPrompt := prompt
		cmd := &cobra.Command{
			Use:   name + " [input]",
			Short: summarizePrompt(cmdPrompt.Prompt),
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, cmdArgs []string) error {
				args.Command = name
				if len(cmdArgs) > 0 {
					args.Prompts = append(args.Prompts, cmdArgs[0])
				}
				args.Prompts = append(args.Prompts, cmdPrompt.Prompt)
				if cmdPrompt.Backend != "" && !cmd.Flags().Changed("backend") {
					args.Backend = cmdPrompt.Backend
				}
				return nil
			},
		}
		rootCmd.AddCommand(cmd)
	}

	rootCmd.SetArgs(argv)
	executed, err := rootCmd.ExecuteContextC(ctx)
	if err != nil {
		return Arguments{}, err
	}
	if helpRequested(executed) {
		return Arguments{Action: ActionHelp}, nil
	}

	args.Backend = strings.ToLower(strings.TrimSpace(args.Backend))
	if args.Backend != config.BackendChat && args.Backend != config.BackendTuring {
		return Arguments{}, fmt.Errorf("unknown backend %q (expected %s or %s)", args.Backend, config.BackendChat, config.BackendTuring)
	}
	if args.New && args.ConversationID != "" {
		return Arguments{}, errors.New("--new and --conversation cannot be used together")
	}

	if args.Action != ActionAsk {
		return args, nil
	}

	if stdin != nil {
		if stat, err := stdin.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
			prompt, err := readInput(stdin)
			if err != nil {
				return Arguments{}, err
			}
			if prompt != "" {
				args.Prompts = append(args.Prompts, prompt)
			}
		}
	}

	if len(args.Prompts) == 0 {
		return Arguments{}, errors.New("no prompt provided")
	}

	return args, nil
}

func historyCommand(args *Arguments) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List and manage stored conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args.Action = ActionHistoryList
			return nil
		},
	}

	historyCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations grouped by day",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				args.Action = ActionHistoryList
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, cmdArgs []string) error {
				args.Action = ActionHistoryShow
				args.Target = cmdArgs[0]
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <id> <title>",
			Short: "Rename a conversation",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, cmdArgs []string) error {
				args.Action = ActionHistoryRename
				args.Target = cmdArgs[0]
				args.Title = strings.Join(cmdArgs[1:], " ")
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, cmdArgs []string) error {
				args.Action = ActionHistoryDelete
				args.Target = cmdArgs[0]
				return nil
			},
		},
	)
	return historyCmd
}

func helpRequested(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}
	if cmd.Name() == "help" {
		return true
	}
	help := cmd.Flags().Lookup("help")
	return help != nil && help.Changed
}

func readInput(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max buffer
	var buf strings.Builder
	for scanner.Scan() {
		buf.WriteString(scanner.Text())
		buf.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// shouldUsePlainText determines if plain text output should be used based on environment and terminal settings.
func shouldUsePlainText(cfg config.Config) bool {
	if cfg.Render.Format == "plain" {
		return true
	}

	// Check if output is being redirected
	if fileInfo, _ := os.Stdout.Stat(); fileInfo != nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			return true
		}
	}

	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}

	if term := os.Getenv("TERM"); term == "dumb" {
		return true
	}

	return false
}

func summarizePrompt(prompt string) string {
	summary := strings.TrimSpace(prompt)
	if runes := []rune(summary); len(runes) > 60 {
		summary = string(runes[:57]) + "..."
	}
	return summary
}
