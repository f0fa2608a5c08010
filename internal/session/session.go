// Package session runs one question/answer exchange against a backend and
// records it in the conversation history.
package session

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/markis/turing-chat/internal/client"
	"github.com/markis/turing-chat/internal/history"
	"github.com/markis/turing-chat/internal/stream"
)

// Result describes a finished exchange.
type Result struct {
	ConversationID string
	Reply          string
}

// Session ties a backend to an optional history store.
type Session struct {
	backend client.Backend
	store   *history.Store
}

// New returns a session. A nil store disables history: every question is
// sent on its own.
func New(backend client.Backend, store *history.Store) *Session {
	return &Session{backend: backend, store: store}
}

// Ask sends prompt as the next user message of the conversation and streams
// the reply into h. An empty conversationID starts a new conversation. Nothing
// is stored when the backend rejects the request up front, and the assistant
// reply is stored only when the stream completes.
func (s *Session) Ask(ctx context.Context, conversationID, prompt string, h stream.Handler) (Result, error) {
	result := Result{ConversationID: conversationID}
	if s.store == nil {
		result.ConversationID = ""
	}

	messages, err := s.conversation(ctx, result.ConversationID)
	if err != nil {
		return result, err
	}
	messages = append(messages, client.Message{Role: client.RoleUser, Content: prompt})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.backend.Stream(ctx, messages)
	if err != nil {
		return result, err
	}

	if s.store != nil {
		id, err := s.saveQuestion(ctx, result.ConversationID, prompt)
		if err != nil {
			cancel()
			for range events {
			}
			return result, err
		}
		result.ConversationID = id
	}

	var reply strings.Builder
	d := stream.NewDispatcher(h)
	for ev := range events {
		if ev.Kind == stream.KindChunk && !d.Done() {
			reply.WriteString(ev.Content)
		}
		d.Handle(ev)
	}
	result.Reply = reply.String()
	if err := d.Close(); err != nil {
		return result, err
	}

	if s.store == nil {
		return result, nil
	}
	if result.Reply == "" {
		log.Debug().Str("conversation", result.ConversationID).Msg("empty reply, nothing to store")
		return result, nil
	}
	if _, err := s.store.AddMessage(ctx, result.ConversationID, client.RoleAssistant, result.Reply); err != nil {
		return result, errors.Wrap(err, "failed to save reply")
	}
	return result, nil
}

// conversation returns the stored messages of id, or none for a new one.
func (s *Session) conversation(ctx context.Context, id string) ([]client.Message, error) {
	if s.store == nil || id == "" {
		return nil, nil
	}
	conv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv.ClientMessages(), nil
}

// saveQuestion records the user message. With an empty id it starts a new
// conversation holding the message.
func (s *Session) saveQuestion(ctx context.Context, id, prompt string) (string, error) {
	if id == "" {
		conv, err := s.store.Start(ctx, prompt)
		if err != nil {
			return "", errors.Wrap(err, "failed to save question")
		}
		log.Debug().Str("conversation", conv.ID).Msg("started conversation")
		return conv.ID, nil
	}
	if _, err := s.store.AddMessage(ctx, id, client.RoleUser, prompt); err != nil {
		return id, errors.Wrap(err, "failed to save question")
	}
	return id, nil
}
