package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/pkg/logger"
	"github.com/pairlink/chat-backend/pkg/metrics"
)

// MessageKind classifies producer-to-consumer queue entries.
type MessageKind int

const (
	// MessageStarted announces the provider's response id.
	MessageStarted MessageKind = iota
	// MessageDelta carries one raw text delta.
	MessageDelta
	// MessageError reports a mid-stream provider failure. The
	// consumer reacts by degrading to the one-shot fallback call.
	MessageError
)

// Message is one producer queue entry. Completion has no message of
// its own: the producer closing the queue signals it.
type Message struct {
	Kind       MessageKind
	Text       string
	ResponseID string
}

// Generator is the slice of the generation provider the multiplexer
// needs: a streaming run and the one-shot completion used when the
// stream fails mid-flight.
type Generator interface {
	// Run streams the response, pushing typed messages until the
	// provider stream ends. A returned error is surfaced to the
	// consumer as a MessageError.
	Run(ctx context.Context, push func(Message)) error

	// Fallback performs one synchronous full-response call with the
	// same input context.
	Fallback(ctx context.Context) (responseID, text string, err error)
}

const (
	defaultHeartbeat = 100 * time.Millisecond
	defaultQueueSize = 64
)

// Mux bridges a blocking producer and the client-facing SSE consumer
// loop through a bounded queue. It guarantees exactly one terminal
// frame (done or error) per stream and that no frame follows it.
type Mux struct {
	gen     Generator
	w       *Writer
	scanner *Scanner
	ledger  *Ledger
	log     *logger.Logger

	heartbeat time.Duration
	queueSize int
}

// Option configures a Mux.
type Option func(*Mux)

// WithHeartbeat overrides the consumer poll interval.
func WithHeartbeat(d time.Duration) Option {
	return func(m *Mux) { m.heartbeat = d }
}

// WithQueueSize overrides the producer queue bound.
func WithQueueSize(n int) Option {
	return func(m *Mux) { m.queueSize = n }
}

// NewMux creates a multiplexer for one stream request.
func NewMux(gen Generator, w *Writer, log *logger.Logger, opts ...Option) *Mux {
	m := &Mux{
		gen:       gen,
		w:         w,
		scanner:   NewScanner(),
		ledger:    NewLedger(),
		log:       log,
		heartbeat: defaultHeartbeat,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run drives the stream to completion and returns the segment list
// for persistence. The terminal frame has been written when Run
// returns nil; a non-nil error means the client went away (or the
// context was cancelled) and the partial segments should still be
// persisted. The producer's context is cancelled when Run exits, so
// the provider call is torn down rather than abandoned.
func (m *Mux) Run(ctx context.Context) ([]model.Segment, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan Message, m.queueSize)
	go func() {
		defer close(queue)
		err := m.gen.Run(ctx, func(msg Message) {
			select {
			case queue <- msg:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			select {
			case queue <- Message{Kind: MessageError, Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	timer := time.NewTimer(m.heartbeat)
	defer timer.Stop()

	for {
		timer.Reset(m.heartbeat)
		select {
		case msg, ok := <-queue:
			if !ok {
				// The producer also closes the queue on cancellation;
				// never write the done frame to a cancelled stream.
				if ctx.Err() != nil {
					return m.ledger.Segments(), ctx.Err()
				}
				return m.finish()
			}
			switch msg.Kind {
			case MessageStarted:
				if err := m.w.WriteEvent("response_id", map[string]string{"response_id": msg.ResponseID}); err != nil {
					return m.ledger.Segments(), err
				}
			case MessageDelta:
				if err := m.emit(m.scanner.Feed(msg.Text)); err != nil {
					return m.ledger.Segments(), err
				}
			case MessageError:
				return m.fallback(ctx, msg.Text)
			}
		case <-timer.C:
			// Drain held-back text so the tail of the reply is not
			// delayed by marker-prefix retention, then keep the
			// connection visibly alive.
			if text := m.scanner.FlushSafe(); text != "" {
				if err := m.emit([]Event{{Kind: EventText, Text: text}}); err != nil {
					return m.ledger.Segments(), err
				}
			}
			if err := m.w.WriteComment(""); err != nil {
				return m.ledger.Segments(), err
			}
		case <-ctx.Done():
			return m.ledger.Segments(), ctx.Err()
		}
	}
}

// finish flushes scanner residue, emits the done frame and returns
// the final segment list.
func (m *Mux) finish() ([]model.Segment, error) {
	if err := m.emit(m.scanner.Finish()); err != nil {
		return m.ledger.Segments(), err
	}
	if err := m.w.WriteEvent("done", struct{}{}); err != nil {
		return m.ledger.Segments(), err
	}
	return m.ledger.Segments(), nil
}

// fallback performs the one-shot degrade: a single full-response call
// replayed through a fresh scanner so live scanner state cannot bleed
// into the replay. If the fallback itself fails the stream terminates
// with an error frame carrying the original cause.
func (m *Mux) fallback(ctx context.Context, cause string) ([]model.Segment, error) {
	m.log.Warn("stream failed, degrading to one-shot completion", zap.String("cause", cause))
	metrics.StreamFallbacksTotal.Inc()

	responseID, text, err := m.gen.Fallback(ctx)
	if err != nil {
		m.log.Error("fallback completion failed", zap.Error(err))
		if werr := m.w.WriteEvent("error", cause); werr != nil {
			return m.ledger.Segments(), werr
		}
		return m.ledger.Segments(), nil
	}

	if responseID != "" {
		if err := m.w.WriteEvent("response_id", map[string]string{"response_id": responseID}); err != nil {
			return m.ledger.Segments(), err
		}
	}

	fresh := NewScanner()
	if err := m.emit(fresh.Feed(text)); err != nil {
		return m.ledger.Segments(), err
	}
	if err := m.emit(fresh.Finish()); err != nil {
		return m.ledger.Segments(), err
	}
	return m.finish()
}

// emit records events in the ledger and writes their frames. A
// directive becomes the three-frame tool envelope so clients can
// render partner-forwarded text distinctly.
func (m *Mux) emit(events []Event) error {
	for _, ev := range events {
		m.ledger.Record(ev)
		var err error
		switch ev.Kind {
		case EventText:
			err = m.w.WriteEvent("token", ev.Text)
		case EventDirectiveOpen:
			err = m.w.WriteEvent("tool_start", map[string]string{"name": "emit_partner_message"})
		case EventDirectiveContent:
			err = m.w.WriteEvent("partner_message", ev.Text)
		case EventDirectiveClose:
			err = m.w.WriteEvent("tool_done", struct{}{})
		}
		if err != nil {
			return err
		}
	}
	return nil
}
