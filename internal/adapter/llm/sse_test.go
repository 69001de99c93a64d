package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain"
)

// errReader serves its buffered data, then fails with err instead of EOF.
type errReader struct {
	data []byte
	err  error
	pos  int
}

func (r *errReader) Read(p []byte) (int, error) {
	if r.pos < len(r.data) {
		n := copy(p, r.data[r.pos:])
		r.pos += n
		return n, nil
	}
	return 0, r.err
}

func (r *errReader) Close() error { return nil }

func parseContentDelta(data []byte) (*domain.StreamDelta, error) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &domain.StreamDelta{Content: payload.Content}, nil
}

func collectDeltas(t *testing.T, body io.ReadCloser) []domain.StreamDelta {
	t.Helper()
	var deltas []domain.StreamDelta
	for d := range parseSSEStream(context.Background(), body, parseContentDelta) {
		deltas = append(deltas, d)
	}
	return deltas
}

func TestParseSSEStreamFrames(t *testing.T) {
	stream := ": keep-alive\n" +
		"data: {\"content\":\"Hel\"}\n\n" +
		"data: {\"content\":\"lo\"}\n\n" +
		"data: [DONE]\n\n"

	deltas := collectDeltas(t, io.NopCloser(strings.NewReader(stream)))
	require.Len(t, deltas, 3)
	assert.Equal(t, "Hel", deltas[0].Content)
	assert.Equal(t, "lo", deltas[1].Content)
	assert.True(t, deltas[2].Done)
	assert.Empty(t, deltas[2].Err)
}

func TestParseSSEStreamJoinsMultiLineData(t *testing.T) {
	// One event split across two data: lines; the payload is only valid
	// JSON once the lines are rejoined.
	stream := "data: {\"content\":\n" +
		"data: \"split\"}\n\n" +
		"data: [DONE]\n\n"

	deltas := collectDeltas(t, io.NopCloser(strings.NewReader(stream)))
	require.Len(t, deltas, 2)
	assert.Equal(t, "split", deltas[0].Content)
	assert.True(t, deltas[1].Done)
}

func TestParseSSEStreamSkipsUnparseableFrames(t *testing.T) {
	stream := "data: not json\n\n" +
		"data: {\"content\":\"ok\"}\n\n" +
		"data: [DONE]\n\n"

	deltas := collectDeltas(t, io.NopCloser(strings.NewReader(stream)))
	require.Len(t, deltas, 2)
	assert.Equal(t, "ok", deltas[0].Content)
}

func TestParseSSEStreamDispatchesTrailingFrame(t *testing.T) {
	// EOF without the final blank line still delivers the last event.
	stream := "data: {\"content\":\"tail\"}\n"

	deltas := collectDeltas(t, io.NopCloser(strings.NewReader(stream)))
	require.Len(t, deltas, 1)
	assert.Equal(t, "tail", deltas[0].Content)
}

func TestParseSSEStreamSurfacesReadError(t *testing.T) {
	body := &errReader{
		data: []byte("data: {\"content\":\"partial\"}\n\n"),
		err:  errors.New("connection reset"),
	}

	deltas := collectDeltas(t, body)
	require.Len(t, deltas, 2)
	assert.Equal(t, "partial", deltas[0].Content)

	last := deltas[1]
	assert.True(t, last.Done)
	assert.Contains(t, last.Err, "connection reset")
}
