package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/markis/turing-chat/internal/args"
	"github.com/markis/turing-chat/internal/client"
	"github.com/markis/turing-chat/internal/config"
	"github.com/markis/turing-chat/internal/history"
	"github.com/markis/turing-chat/internal/render"
	"github.com/markis/turing-chat/internal/session"
)

// main function to parse arguments and initiate the chat request.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)

	a, err := args.ParseArgs(ctx, *cfg, os.Args[1:], os.Stdin)
	if err != nil {
		return err
	}
	if a.Action == args.ActionHelp {
		return nil
	}
	setLogLevel(a.LogLevel)

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Debug().Err(err).Msg("failed to close history")
			}
		}()
	}

	if a.Action == args.ActionAsk {
		return ask(ctx, cfg, a, store)
	}
	if store == nil {
		return errors.New("history is disabled in the configuration")
	}
	return manageHistory(ctx, a, store)
}

func ask(ctx context.Context, cfg *config.Config, a args.Arguments, store *history.Store) error {
	backend := newBackend(cfg, a)

	convID := a.ConversationID
	if store != nil && convID == "" && !a.New {
		latest, err := store.Latest(ctx)
		switch {
		case err == nil:
			convID = latest.ID
		case !errors.Is(err, history.ErrNotFound):
			return err
		}
	}

	renderer := render.NewTerminalRenderer(os.Stdout, os.Stderr, render.Options{
		Plain: a.UsePlainText,
		Wrap:  cfg.Render.Wrap,
	})

	res, err := session.New(backend, store).Ask(ctx, convID, a.Prompt(), renderer)
	if err != nil {
		return err
	}
	if res.ConversationID != "" {
		log.Debug().Str("conversation", res.ConversationID).Msg("reply stored")
	}
	return renderer.Err()
}

func newBackend(cfg *config.Config, a args.Arguments) client.Backend {
	if a.Backend == config.BackendChat {
		chat := cfg.Chat
		chat.Model = a.Model
		if chat.APIKey != "" && !chat.APIKeyConfigured() {
			log.Warn().Msg("chat API key is still the placeholder value")
		}
		return client.NewChatClient(chat)
	}

	if !cfg.Turing.URLConfigured() {
		log.Debug().Str("url", cfg.Turing.URL).Msg("using the local query service")
	}
	return client.NewTuringClient(cfg.Turing)
}

func manageHistory(ctx context.Context, a args.Arguments, store *history.Store) error {
	switch a.Action {
	case args.ActionHistoryList:
		groups, err := store.Grouped(ctx)
		if err != nil {
			return err
		}
		return render.PrintHistory(os.Stdout, groups)
	case args.ActionHistoryShow:
		conv, err := store.Get(ctx, a.Target)
		if err != nil {
			return fmt.Errorf("conversation %s: %w", a.Target, err)
		}
		return render.PrintConversation(os.Stdout, conv)
	case args.ActionHistoryRename:
		if err := store.Rename(ctx, a.Target, a.Title); err != nil {
			return fmt.Errorf("conversation %s: %w", a.Target, err)
		}
		fmt.Fprintf(os.Stderr, "Renamed %s to %q\n", a.Target, strings.TrimSpace(a.Title))
		return nil
	case args.ActionHistoryDelete:
		if err := store.Delete(ctx, a.Target); err != nil {
			return fmt.Errorf("conversation %s: %w", a.Target, err)
		}
		fmt.Fprintf(os.Stderr, "Deleted %s\n", a.Target)
		return nil
	}
	return fmt.Errorf("unsupported action %q", a.Action)
}

func setLogLevel(level string) {
	if level == "" {
		return
	}
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, keeping the current one")
		return
	}
	zerolog.SetGlobalLevel(l)
}
