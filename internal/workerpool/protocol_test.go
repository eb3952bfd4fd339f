package workerpool

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := newFrameWriter(&buf)

	task := Task{
		TaskID:          "t1",
		SpecName:        "Double",
		SpecVersion:     "v1",
		Payload:         json.RawMessage(`{"Value":3}`),
		RequestID:       "r1",
		RequestDatetime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, w.WriteFrame(task))

	var got Task
	require.NoError(t, newFrameReader(&buf).ReadFrame(&got))
	assert.Equal(t, task, got)
}

func TestFrameReaderPropagatesEOF(t *testing.T) {
	var got Task
	err := newFrameReader(bytes.NewReader(nil)).ReadFrame(&got)
	assert.Equal(t, io.EOF, err)
}

func TestFrameReaderRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	var got Task
	err := newFrameReader(&buf).ReadFrame(&got)
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestFrameSequencesPreserveOrder(t *testing.T) {
	var buf bytes.Buffer
	w := newFrameWriter(&buf)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteFrame(Response{TaskID: string(rune('a' + i))}))
	}
	r := newFrameReader(&buf)
	for i := 0; i < 3; i++ {
		var resp Response
		require.NoError(t, r.ReadFrame(&resp))
		assert.Equal(t, string(rune('a'+i)), resp.TaskID)
	}
}
