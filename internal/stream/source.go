package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Source yields the events of one run in channel order. Next returns io.EOF
// when the channel ends. Close may be called more than once and from another
// goroutine to interrupt a blocked Next.
type Source interface {
	Next() (Event, error)
	Close() error
}

// SSESource reads a text/event-stream body.
type SSESource struct {
	body   io.ReadCloser
	reader *bufio.Reader
	once   sync.Once
}

// NewSSESource wraps an event-stream body.
func NewSSESource(body io.ReadCloser) *SSESource {
	return &SSESource{body: body, reader: bufio.NewReaderSize(body, 64*1024)}
}

// Next reads lines until a blank line completes an event. Comment lines and
// fields other than event and data are ignored; events with no data are
// skipped.
func (s *SSESource) Next() (Event, error) {
	var (
		kind Kind
		data bytes.Buffer
		seen bool
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && (line == "" || err != io.EOF) {
			if err == io.EOF && seen {
				return finishEvent(kind, data.Bytes()), nil
			}
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if seen {
				return finishEvent(kind, data.Bytes()), nil
			}
			kind = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			kind = Kind(value)
		case "data":
			if seen {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			seen = true
		}
	}
}

func finishEvent(kind Kind, data []byte) Event {
	if kind == "" {
		kind = "message"
	}
	return Event{Kind: kind, Data: append([]byte(nil), data...)}
}

// Close closes the underlying body.
func (s *SSESource) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}

// SocketSource reads JSON envelopes from a WebSocket connection.
type SocketSource struct {
	conn *websocket.Conn
	once sync.Once
}

// NewSocketSource wraps an established connection.
func NewSocketSource(conn *websocket.Conn) *SocketSource {
	return &SocketSource{conn: conn}
}

// Next reads one envelope. A normal close frame ends the stream with io.EOF.
func (s *SocketSource) Next() (Event, error) {
	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return Event{}, fmt.Errorf("decode websocket envelope: %w", err)
		}
		return Event{Kind: env.Event, Data: []byte(env.Data)}, nil
	}
}

// Close closes the connection.
func (s *SocketSource) Close() error {
	var err error
	s.once.Do(func() { err = s.conn.Close() })
	return err
}

// SliceSource replays a fixed list of events, then returns End (io.EOF when
// nil). It is used for offline replays and tests.
type SliceSource struct {
	Events []Event
	End    error

	mu     sync.Mutex
	pos    int
	closed bool
}

// Next returns the next queued event.
func (s *SliceSource) Next() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Event{}, io.ErrClosedPipe
	}
	if s.pos >= len(s.Events) {
		if s.End != nil {
			return Event{}, s.End
		}
		return Event{}, io.EOF
	}
	ev := s.Events[s.pos]
	s.pos++
	return ev, nil
}

// Close marks the source closed.
func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
