package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/pkg/logger"
)

// scriptedGenerator replays fixed deltas, optionally failing the
// stream afterward.
type scriptedGenerator struct {
	responseID string
	deltas     []string
	runErr     error

	fallbackID   string
	fallbackText string
	fallbackErr  error

	blockUntilCancel bool
}

func (g *scriptedGenerator) Run(ctx context.Context, push func(Message)) error {
	if g.responseID != "" {
		push(Message{Kind: MessageStarted, ResponseID: g.responseID})
	}
	for _, d := range g.deltas {
		push(Message{Kind: MessageDelta, Text: d})
	}
	if g.blockUntilCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	return g.runErr
}

func (g *scriptedGenerator) Fallback(ctx context.Context) (string, string, error) {
	return g.fallbackID, g.fallbackText, g.fallbackErr
}

type frame struct {
	event string
	data  string
}

// parseFrames extracts event frames from an SSE body, skipping
// comment blocks.
func parseFrames(t *testing.T, body string) (frames []frame, comments int) {
	t.Helper()
	for _, block := range strings.Split(body, "\n\n") {
		if block == "" {
			continue
		}
		if strings.HasPrefix(block, ":") {
			comments++
			continue
		}
		lines := strings.SplitN(block, "\n", 2)
		require.Len(t, lines, 2, "malformed frame: %q", block)
		frames = append(frames, frame{
			event: strings.TrimPrefix(lines[0], "event: "),
			data:  strings.TrimPrefix(lines[1], "data: "),
		})
	}
	return frames, comments
}

func asString(t *testing.T, raw string) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	return s
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error")
	require.NoError(t, err)
	return log
}

func runMux(t *testing.T, gen Generator, opts ...Option) ([]model.Segment, error, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	m := NewMux(gen, w, testLogger(t), opts...)
	segments, runErr := m.Run(context.Background())
	return segments, runErr, rec.Body.String()
}

func TestMuxStreamWithDirective(t *testing.T) {
	gen := &scriptedGenerator{
		deltas: []string{"Hello ", "<partner_", "message>call mom", "</partner_message> bye"},
	}

	segments, err, body := runMux(t, gen, WithHeartbeat(time.Second))
	require.NoError(t, err)

	frames, _ := parseFrames(t, body)
	require.Len(t, frames, 6)
	assert.Equal(t, "token", frames[0].event)
	assert.Equal(t, "Hello ", asString(t, frames[0].data))
	assert.Equal(t, "tool_start", frames[1].event)
	assert.Equal(t, "partner_message", frames[2].event)
	assert.Equal(t, "call mom", asString(t, frames[2].data))
	assert.Equal(t, "tool_done", frames[3].event)
	assert.Equal(t, "token", frames[4].event)
	assert.Equal(t, " bye", asString(t, frames[4].data))
	assert.Equal(t, "done", frames[5].event)

	require.Len(t, segments, 3)
	assert.Equal(t, model.Segment{Type: model.SegmentText, Content: "Hello "}, segments[0])
	assert.Equal(t, model.Segment{Type: model.SegmentPartnerDraft, Text: "call mom"}, segments[1])
	assert.Equal(t, model.Segment{Type: model.SegmentText, Content: " bye"}, segments[2])
}

func TestMuxResponseIDFrameComesFirst(t *testing.T) {
	gen := &scriptedGenerator{
		responseID: "resp_123",
		deltas:     []string{"hi"},
	}

	_, err, body := runMux(t, gen, WithHeartbeat(time.Second))
	require.NoError(t, err)

	frames, _ := parseFrames(t, body)
	require.NotEmpty(t, frames)
	assert.Equal(t, "response_id", frames[0].event)
	assert.JSONEq(t, `{"response_id":"resp_123"}`, frames[0].data)
}

func TestMuxExactlyOneTerminalFrame(t *testing.T) {
	gen := &scriptedGenerator{deltas: []string{"only text"}}

	_, err, body := runMux(t, gen, WithHeartbeat(time.Second))
	require.NoError(t, err)

	frames, _ := parseFrames(t, body)
	terminal := 0
	for i, f := range frames {
		if f.event == "done" || f.event == "error" {
			terminal++
			assert.Equal(t, len(frames)-1, i, "terminal frame must be last")
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestMuxFallbackReplaysFullText(t *testing.T) {
	gen := &scriptedGenerator{
		deltas:       []string{"Hi <par"},
		runErr:       errors.New("stream reset"),
		fallbackID:   "resp_fb",
		fallbackText: "Full <partner_message>m</partner_message>",
	}

	segments, err, body := runMux(t, gen, WithHeartbeat(time.Second))
	require.NoError(t, err)

	frames, _ := parseFrames(t, body)
	events := make([]string, len(frames))
	for i, f := range frames {
		events[i] = f.event
	}
	// Live tokens, then the fallback replay, then the live scanner's
	// held residue, then done.
	assert.Equal(t, []string{"token", "response_id", "token", "tool_start", "partner_message", "tool_done", "token", "done"}, events)
	assert.Equal(t, "Hi ", asString(t, frames[0].data))
	assert.Equal(t, "Full ", asString(t, frames[2].data))
	assert.Equal(t, "m", asString(t, frames[4].data))
	assert.Equal(t, "<par", asString(t, frames[6].data))

	require.Len(t, segments, 3)
	assert.Equal(t, model.Segment{Type: model.SegmentText, Content: "Hi Full "}, segments[0])
	assert.Equal(t, model.Segment{Type: model.SegmentPartnerDraft, Text: "m"}, segments[1])
	assert.Equal(t, model.Segment{Type: model.SegmentText, Content: "<par"}, segments[2])
}

func TestMuxFallbackFailureEndsWithErrorFrame(t *testing.T) {
	gen := &scriptedGenerator{
		deltas:      []string{"partial "},
		runErr:      errors.New("stream reset"),
		fallbackErr: errors.New("completion unavailable"),
	}

	segments, err, body := runMux(t, gen, WithHeartbeat(time.Second))
	require.NoError(t, err)

	frames, _ := parseFrames(t, body)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "error", last.event)
	assert.Equal(t, "stream reset", asString(t, last.data), "error frame carries the original stream failure")

	for _, f := range frames {
		assert.NotEqual(t, "done", f.event, "no done frame after a terminal error")
	}

	// Partial output is still returned for persistence.
	require.Len(t, segments, 1)
	assert.Equal(t, "partial ", segments[0].Content)
}

func TestMuxHeartbeatWhileIdle(t *testing.T) {
	gen := &scriptedGenerator{blockUntilCancel: true}

	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	m := NewMux(gen, w, testLogger(t), WithHeartbeat(5*time.Millisecond))
	_, runErr := m.Run(ctx)
	assert.ErrorIs(t, runErr, context.Canceled)

	_, comments := parseFrames(t, rec.Body.String())
	assert.GreaterOrEqual(t, comments, 2, "idle stream keeps emitting heartbeat comments")
}

func TestMuxClientCancelReturnsPartialSegments(t *testing.T) {
	gen := &scriptedGenerator{
		deltas:           []string{"partial answer "},
		blockUntilCancel: true,
	}

	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	m := NewMux(gen, w, testLogger(t), WithHeartbeat(5*time.Millisecond))
	segments, runErr := m.Run(ctx)
	assert.Error(t, runErr)
	require.Len(t, segments, 1)
	assert.Equal(t, "partial answer ", segments[0].Content)
}
