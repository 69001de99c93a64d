package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"conductor/internal/domain"
)

// parseSSEStream reads server-sent events from body and converts each data
// payload into a StreamDelta via parseData. Frames follow the SSE framing
// rules: consecutive "data:" lines belong to one event and are joined with
// newlines, a blank line dispatches the accumulated event, and comment lines
// are ignored. A read error mid-stream surfaces as a terminal delta with Err
// set, so consumers can tell a truncated stream from a clean end. The
// returned channel is closed when the stream ends, the body is closed, or
// ctx is cancelled.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseData func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)

	send := func(delta domain.StreamDelta) bool {
		select {
		case ch <- delta:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var dataLines []string
		dispatch := func() (terminal bool) {
			if len(dataLines) == 0 {
				return false
			}
			data := strings.Join(dataLines, "\n")
			dataLines = dataLines[:0]

			if data == "[DONE]" {
				send(domain.StreamDelta{Done: true})
				return true
			}
			delta, err := parseData([]byte(data))
			if err != nil || delta == nil {
				// Unparseable frames are dropped, not fatal.
				return false
			}
			if !send(*delta) {
				return true
			}
			return delta.Done
		}

		for scanner.Scan() {
			line := scanner.Bytes()
			switch {
			case len(line) == 0:
				if dispatch() {
					return
				}
			case line[0] == ':':
				// Comment / keep-alive line.
			case bytes.HasPrefix(line, []byte("data:")):
				dataLines = append(dataLines, string(trimFieldValue(line[len("data:"):])))
			default:
				// Other SSE fields (event:, id:, retry:) carry nothing we use.
			}
		}

		if err := scanner.Err(); err != nil {
			send(domain.StreamDelta{Done: true, Err: "stream read: " + err.Error()})
			return
		}
		// EOF without a trailing blank line still dispatches the last frame.
		dispatch()
	}()
	return ch
}

// trimFieldValue strips the single optional space after an SSE field colon.
func trimFieldValue(v []byte) []byte {
	if len(v) > 0 && v[0] == ' ' {
		return v[1:]
	}
	return v
}
