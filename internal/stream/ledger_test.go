package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/chat-backend/internal/model"
)

func TestLedgerCoalescesAdjacentText(t *testing.T) {
	l := NewLedger()
	l.Record(Event{Kind: EventText, Text: "Hello "})
	l.Record(Event{Kind: EventText, Text: "world"})

	segments := l.Segments()
	require.Len(t, segments, 1)
	assert.Equal(t, model.SegmentText, segments[0].Type)
	assert.Equal(t, "Hello world", segments[0].Content)
}

func TestLedgerDirectiveClosesTextSegment(t *testing.T) {
	l := NewLedger()
	l.Record(Event{Kind: EventText, Text: "before "})
	l.Record(Event{Kind: EventDirectiveOpen})
	l.Record(Event{Kind: EventDirectiveContent, Text: "call mom"})
	l.Record(Event{Kind: EventDirectiveClose})
	l.Record(Event{Kind: EventText, Text: " after"})

	segments := l.Segments()
	require.Len(t, segments, 3)
	assert.Equal(t, model.Segment{Type: model.SegmentText, Content: "before "}, segments[0])
	assert.Equal(t, model.Segment{Type: model.SegmentPartnerDraft, Text: "call mom"}, segments[1])
	assert.Equal(t, model.Segment{Type: model.SegmentText, Content: " after"}, segments[2])
}

func TestLedgerEmptyStream(t *testing.T) {
	l := NewLedger()
	assert.Nil(t, l.Segments())
}

func TestLedgerBackToBackDirectives(t *testing.T) {
	l := NewLedger()
	l.Record(Event{Kind: EventDirectiveContent, Text: "one"})
	l.Record(Event{Kind: EventDirectiveContent, Text: "two"})

	segments := l.Segments()
	require.Len(t, segments, 2)
	assert.Equal(t, "one", segments[0].Text)
	assert.Equal(t, "two", segments[1].Text)
}

func TestLedgerFullText(t *testing.T) {
	l := NewLedger()
	l.Record(Event{Kind: EventText, Text: "a"})
	l.Record(Event{Kind: EventDirectiveContent, Text: "draft"})
	l.Record(Event{Kind: EventText, Text: "b"})

	assert.Equal(t, "ab", l.FullText())
}
