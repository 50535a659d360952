package stream

import (
	"strings"

	"github.com/pairlink/chat-backend/internal/model"
)

// Ledger accumulates scanner events into the ordered segment list
// persisted with the assistant turn. Adjacent text spans coalesce
// into a single segment; a directive closes the running text segment.
type Ledger struct {
	segments []model.Segment
	current  strings.Builder
	fullText strings.Builder
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Record folds one scanner event into the ledger.
func (l *Ledger) Record(ev Event) {
	switch ev.Kind {
	case EventText:
		l.current.WriteString(ev.Text)
		l.fullText.WriteString(ev.Text)
	case EventDirectiveContent:
		l.closeText()
		l.segments = append(l.segments, model.Segment{
			Type: model.SegmentPartnerDraft,
			Text: ev.Text,
		})
	}
}

// Segments finalizes the ledger and returns the segment list. When no
// directive ever fired the full plain text is returned as a single
// text segment, so downstream consumers always see a segment list.
// Nil means the stream produced nothing at all.
func (l *Ledger) Segments() []model.Segment {
	l.closeText()
	return l.segments
}

// FullText returns the concatenation of all plain-text spans in order.
func (l *Ledger) FullText() string {
	return l.fullText.String()
}

func (l *Ledger) closeText() {
	if l.current.Len() == 0 {
		return
	}
	l.segments = append(l.segments, model.Segment{
		Type:    model.SegmentText,
		Content: l.current.String(),
	})
	l.current.Reset()
}
