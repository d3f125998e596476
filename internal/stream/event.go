// Package stream decodes the newline-delimited `data: <json>` framing used by
// the generation backend into protocol events.
package stream

// EventKind tags an Event.
type EventKind int

const (
	EventChunk EventKind = iota
	EventDone
	EventMalformed
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventDone:
		return "done"
	case EventMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Event is one decoded protocol event.
//
// Text is set for EventChunk, RawLine for EventMalformed. TokensUsed is only
// ever set on EventDone, and only when the backend reported usage.
type Event struct {
	Kind       EventKind
	Text       string
	RawLine    string
	TokensUsed *int
}

func Chunk(text string) Event { return Event{Kind: EventChunk, Text: text} }

func Done() Event { return Event{Kind: EventDone} }

func Malformed(raw string) Event { return Event{Kind: EventMalformed, RawLine: raw} }
