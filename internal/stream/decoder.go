package stream

import (
	"encoding/json"
	"strings"
)

const dataPrefix = "data: "

type payload struct {
	Chunk      *string `json:"chunk"`
	Done       bool    `json:"done"`
	TokensUsed *int    `json:"tokens_used"`
}

// Decoder turns arbitrarily fragmented response text into Events.
//
// Fragment boundaries carry no meaning: the unterminated tail of each fragment
// is held back and prefixed onto the next one. A Decoder is single-use and not
// safe for concurrent use.
type Decoder struct {
	partial strings.Builder
	closed  bool
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes the next fragment and returns the events of every line it
// completed, in order. Feeding after Close returns nil.
func (d *Decoder) Feed(fragment string) []Event {
	if d.closed || fragment == "" {
		return nil
	}

	if strings.IndexByte(fragment, '\n') < 0 {
		d.partial.WriteString(fragment)
		return nil
	}

	d.partial.WriteString(fragment)
	text := d.partial.String()
	d.partial.Reset()

	lines := strings.Split(text, "\n")
	// the last element is whatever followed the final newline
	d.partial.WriteString(lines[len(lines)-1])

	var events []Event
	for _, line := range lines[:len(lines)-1] {
		events = appendLine(events, line)
	}
	return events
}

// Close ends the stream. A buffered partial line was never terminated and is
// dropped without producing an event.
func (d *Decoder) Close() {
	d.closed = true
	d.partial.Reset()
}

// Pending reports how many bytes of an unterminated line are buffered.
func (d *Decoder) Pending() int {
	return d.partial.Len()
}

func appendLine(events []Event, line string) []Event {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return events
	}

	var p payload
	if err := json.Unmarshal([]byte(line[len(dataPrefix):]), &p); err != nil {
		return append(events, Malformed(line))
	}

	if p.Chunk != nil && *p.Chunk != "" {
		events = append(events, Chunk(*p.Chunk))
	}
	if p.Done {
		done := Done()
		done.TokensUsed = p.TokensUsed
		events = append(events, done)
	}
	return events
}
