// Package stream implements the response-delivery pipeline: the
// incremental directive scanner, the segment ledger, and the
// producer/consumer multiplexer that drives an SSE connection.
package stream

import (
	"regexp"
	"strings"
)

const (
	// markerStart is the literal prefix of the directive start marker.
	// Attributes between the literal and '>' are accepted and ignored.
	markerStart = "<partner_message"
	markerEnd   = "</partner_message>"
)

var openPattern = regexp.MustCompile(`<partner_message(?:\s+[^>]*)?>`)

// EventKind classifies scanner output.
type EventKind int

const (
	// EventText is a span of the assistant's own reply.
	EventText EventKind = iota
	// EventDirectiveOpen precedes the content of a partner directive.
	EventDirectiveOpen
	// EventDirectiveContent carries the directive body. It is emitted
	// only once the end marker has been observed.
	EventDirectiveContent
	// EventDirectiveClose follows the directive content.
	EventDirectiveClose
)

// Event is one scanner emission.
type Event struct {
	Kind EventKind
	Text string
}

// Scanner incrementally classifies a delta stream into plain text and
// partner-directive spans. Markers may arrive split across any number
// of deltas; buffering outside a directive is bounded by the start
// marker's length.
type Scanner struct {
	buffer      string
	inDirective bool
}

// NewScanner returns a scanner ready for the first delta.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Feed appends a delta and returns the events that can be emitted so
// far. Directive content is withheld until its end marker arrives;
// plain text is withheld only while it could be the beginning of a
// split start marker.
func (s *Scanner) Feed(delta string) []Event {
	if delta == "" {
		return nil
	}
	s.buffer += delta

	var events []Event
	for {
		if s.inDirective {
			idx := strings.Index(s.buffer, markerEnd)
			if idx < 0 {
				// Directive content may span arbitrarily many
				// deltas; hold the whole buffer.
				return events
			}
			events = append(events,
				Event{Kind: EventDirectiveOpen},
				Event{Kind: EventDirectiveContent, Text: s.buffer[:idx]},
				Event{Kind: EventDirectiveClose},
			)
			s.buffer = s.buffer[idx+len(markerEnd):]
			s.inDirective = false
			continue
		}

		loc := openPattern.FindStringIndex(s.buffer)
		if loc == nil {
			if flushable := s.splitSafe(); flushable != "" {
				events = append(events, Event{Kind: EventText, Text: flushable})
			}
			return events
		}
		if before := s.buffer[:loc[0]]; before != "" {
			events = append(events, Event{Kind: EventText, Text: before})
		}
		s.buffer = s.buffer[loc[1]:]
		s.inDirective = true
	}
}

// FlushSafe returns any plain text that can be emitted without the
// risk of splitting a start marker. Used by the consumer loop to
// drain held-back text at heartbeat time.
func (s *Scanner) FlushSafe() string {
	return s.splitSafe()
}

// Finish ends the stream and flushes whatever remains as plain text.
// An unterminated directive degrades to visible text rather than
// being dropped.
func (s *Scanner) Finish() []Event {
	s.inDirective = false
	if s.buffer == "" {
		return nil
	}
	text := s.buffer
	s.buffer = ""
	return []Event{{Kind: EventText, Text: text}}
}

// splitSafe removes and returns the longest buffer prefix that cannot
// overlap a split start marker. The retained suffix is the longest
// suffix of the buffer that is a prefix of the marker literal.
func (s *Scanner) splitSafe() string {
	if s.inDirective || s.buffer == "" {
		return ""
	}
	max := len(s.buffer)
	if max > len(markerStart) {
		max = len(markerStart)
	}
	overlap := 0
	for k := max; k > 0; k-- {
		if strings.HasSuffix(s.buffer, markerStart[:k]) {
			overlap = k
			break
		}
	}
	flushable := s.buffer[:len(s.buffer)-overlap]
	s.buffer = s.buffer[len(s.buffer)-overlap:]
	return flushable
}
