package client

import (
	"bufio"
	"io"
	"strings"
)

// Event is one server-sent event
type Event struct {
	Name string
	ID   string
	Data string
}

// EventReader parses a text/event-stream body
type EventReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// NewEventReader wraps an event stream body
func NewEventReader(body io.ReadCloser) *EventReader {
	scanner := bufio.NewScanner(body)
	// Snapshot events carry the whole canvas on one line
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &EventReader{body: body, scanner: scanner}
}

// Next returns the next event. Comments and the retry field are skipped.
// It returns io.EOF when the stream ends.
func (r *EventReader) Next() (Event, error) {
	var ev Event
	var data []string
	hasData := false

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		if line == "" {
			if ev.Name != "" || hasData {
				ev.Data = strings.Join(data, "\n")
				if ev.Name == "" {
					ev.Name = "message"
				}
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "id":
			ev.ID = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Close closes the underlying stream
func (r *EventReader) Close() error {
	return r.body.Close()
}
