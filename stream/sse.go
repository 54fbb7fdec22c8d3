package stream

import "strconv"

// SSE wraps a Stream with the Server-Sent Events line protocol
// (https://html.spec.whatwg.org/multipage/server-sent-events.html),
// fixing Content-Type/Cache-Control at first emission per SPEC_FULL.md
// §4.6.
type SSE struct {
	*Stream
}

// NewSSE creates an SSE stream bound to w.
func NewSSE(w Writer) *SSE { return &SSE{Stream: New(w)} }

func (s *SSE) ensureStarted() error {
	if s.State() != StateInit {
		return nil
	}
	return s.Headers(200, map[string]string{
		"Content-Type":  "text/event-stream",
		"Cache-Control": "no-cache",
	})
}

// Event writes one SSE event. id and eventType may be empty to omit the
// corresponding fields. data is split on "\n" into multiple "data:" lines,
// per the SSE spec.
func (s *SSE) Event(eventType, data, id string) error {
	if err := s.ensureStarted(); err != nil {
		return err
	}
	var buf []byte
	if id != "" {
		buf = append(buf, "id: "+id+"\n"...)
	}
	if eventType != "" {
		buf = append(buf, "event: "+eventType+"\n"...)
	}
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			buf = append(buf, "data: "+data[start:i]+"\n"...)
			start = i + 1
		}
	}
	buf = append(buf, '\n')
	_, err := s.Write(buf)
	return err
}

// Retry writes an SSE "retry:" directive instructing the client's
// reconnection delay.
func (s *SSE) Retry(ms int) error {
	if err := s.ensureStarted(); err != nil {
		return err
	}
	_, err := s.Write([]byte("retry: " + strconv.Itoa(ms) + "\n\n"))
	return err
}

// Comment writes an SSE comment line, commonly used as a keepalive.
func (s *SSE) Comment(text string) error {
	if err := s.ensureStarted(); err != nil {
		return err
	}
	_, err := s.Write([]byte(": " + text + "\n\n"))
	return err
}

// Keepalive writes an empty SSE comment, the conventional no-op keepalive.
func (s *SSE) Keepalive() error { return s.Comment("") }
