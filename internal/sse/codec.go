package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const dataPrefix = "data: "

// DoneSentinel is the upstream end-of-stream payload; it carries no event
const DoneSentinel = "[DONE]"

// Encode writes one event in wire form
func Encode(w io.Writer, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}
	_, err = fmt.Fprintf(w, "%s%s\n\n", dataPrefix, payload)
	return err
}

// Writer pushes events to an HTTP response, flushing after each one
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter sets the event-stream headers on w. It fails if w cannot flush.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	return &Writer{w: w, flusher: flusher}, nil
}

// Send encodes and flushes one event
func (sw *Writer) Send(e Event) error {
	if err := Encode(sw.w, e); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Scanner yields the payload of every "data: " line of a stream.
// Other lines (blank separators, "event:" names, comments) are skipped.
type Scanner struct {
	s       *bufio.Scanner
	payload string
}

// NewScanner reads lines from r. Lines up to 1 MiB are supported.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Scanner{s: s}
}

// Scan advances to the next data payload
func (sc *Scanner) Scan() bool {
	for sc.s.Scan() {
		line := strings.TrimSuffix(sc.s.Text(), "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		sc.payload = strings.TrimPrefix(line, dataPrefix)
		return true
	}
	return false
}

// Payload returns the current data payload
func (sc *Scanner) Payload() string {
	return sc.payload
}

// Err returns the first read error, if any
func (sc *Scanner) Err() error {
	return sc.s.Err()
}

// Decoder reads events from a stream written by Encode
type Decoder struct {
	sc *Scanner
}

// NewDecoder returns a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{sc: NewScanner(r)}
}

// Next returns the next well-formed event, skipping malformed lines.
// It returns io.EOF at a clean end of stream.
func (d *Decoder) Next() (Event, error) {
	for d.sc.Scan() {
		var e Event
		if err := json.Unmarshal([]byte(d.sc.Payload()), &e); err != nil {
			continue
		}
		return e, nil
	}
	if err := d.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Handlers receives decoded events
type Handlers struct {
	OnTextDelta       func(text string)
	OnMessageComplete func(e Event)
	OnError           func(message string)
}

// Consume decodes r until it ends, dispatching each event. An error event
// without a message is reported with a generic one.
func Consume(r io.Reader, h Handlers) error {
	d := NewDecoder(r)
	for {
		e, err := d.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch e.Type {
		case TypeTextDelta:
			if h.OnTextDelta != nil {
				h.OnTextDelta(e.Text)
			}
		case TypeMessageComplete:
			if h.OnMessageComplete != nil {
				h.OnMessageComplete(e)
			}
		case TypeError:
			if h.OnError != nil {
				msg := e.Message
				if msg == "" {
					msg = "Something went wrong."
				}
				h.OnError(msg)
			}
		}
	}
}
