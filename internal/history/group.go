package history

import (
	"context"
	"time"
)

// DayGroup holds the conversations last updated on one calendar day.
type DayGroup struct {
	Day           time.Time
	Conversations []*Conversation
}

// Label formats the day the way the history list shows it.
func (g DayGroup) Label() string {
	return g.Day.Format("Mon, Jan 2 2006")
}

// Grouped returns conversations bucketed by the local day of their last
// update, newest day first. Within a day the newest conversation comes first.
func (s *Store) Grouped(ctx context.Context) ([]DayGroup, error) {
	convs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return groupByDay(convs, s.loc), nil
}

// groupByDay expects convs sorted by UpdatedAt descending.
func groupByDay(convs []*Conversation, loc *time.Location) []DayGroup {
	groups := []DayGroup{}
	for _, conv := range convs {
		t := conv.UpdatedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Conversations = append(groups[n-1].Conversations, conv)
			continue
		}
		groups = append(groups, DayGroup{Day: day, Conversations: []*Conversation{conv}})
	}
	return groups
}
