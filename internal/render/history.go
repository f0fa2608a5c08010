package render

import (
	"fmt"
	"io"

	"github.com/markis/turing-chat/internal/history"
)

// PrintHistory lists conversations grouped by day.
func PrintHistory(w io.Writer, groups []history.DayGroup) error {
	if len(groups) == 0 {
		_, err := fmt.Fprintln(w, "No conversations yet.")
		return err
	}
	for i, g := range groups {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w, g.Label()); err != nil {
			return err
		}
		for _, c := range g.Conversations {
			if _, err := fmt.Fprintf(w, "  %s  %s  %s\n", c.ID, c.UpdatedAt.Format("15:04"), c.Title); err != nil {
				return err
			}
		}
	}
	return nil
}

// PrintConversation writes a stored conversation as a transcript.
func PrintConversation(w io.Writer, conv *history.Conversation) error {
	if _, err := fmt.Fprintf(w, "# %s\n", conv.Title); err != nil {
		return err
	}
	for _, m := range conv.Messages {
		if _, err := fmt.Fprintf(w, "\n[%s] %s\n%s\n", m.Timestamp.Format("2006-01-02 15:04"), m.Role, m.Content); err != nil {
			return err
		}
	}
	return nil
}
