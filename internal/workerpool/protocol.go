// Package workerpool implements the supervised worker pool: a shared pool
// of long-lived child OS processes, a bounded admission semaphore, hard
// timeouts enforced by killing and respawning workers, and crash recovery. Each worker is a re-exec of the same binary running in
// "worker mode" (see child.go); the supervisor and the worker exchange
// length-prefixed JSON frames over the worker's stdin/stdout pipes.
package workerpool

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Task is the wire message the supervisor posts to a worker's inbound
// pipe. SpecName/SpecVersion let the worker reconstruct the spec from its
// own in-process registry, which is built identically to the supervisor's
// via the same ALGO_MODULES bootstrap.
type Task struct {
	TaskID          string          `json:"taskId"`
	SpecName        string          `json:"specName"`
	SpecVersion     string          `json:"specVersion"`
	Payload         json.RawMessage `json:"payload"`
	RequestID       string          `json:"requestId"`
	TraceID         string          `json:"traceId,omitempty"`
	RequestDatetime time.Time       `json:"requestDatetime"`
	Context         map[string]any  `json:"context,omitempty"`
	TimeoutS        *float64        `json:"timeoutS,omitempty"`
}

// WireError mirrors envelope.ExecError in a JSON-friendly shape (ExecError
// is not itself tagged for JSON since it only ever traveled in-process
// before the worker pool existed).
type WireError struct {
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Traceback string         `json:"traceback,omitempty"`
}

// WireResponseMeta mirrors execution.ResponseMetaSnapshot.
type WireResponseMeta struct {
	Code    *int           `json:"code,omitempty"`
	Message *string        `json:"message,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Response is the wire message a worker writes to its own stdout pipe; the
// supervisor forwards it into one shared outbound channel. StartedAt/EndedAt are the worker's own monotonic-ish
// wall-clock timestamps so the supervisor can derive queue_wait_ms and
// duration_ms accurately despite scheduling jitter.
type Response struct {
	TaskID       string           `json:"taskId"`
	Success      bool             `json:"success"`
	Data         json.RawMessage  `json:"data,omitempty"`
	Error        *WireError       `json:"error,omitempty"`
	ResponseMeta WireResponseMeta `json:"responseMeta"`
	StartedAt    time.Time        `json:"startedAt"`
	EndedAt      time.Time        `json:"endedAt"`
}

// shutdownSentinel is posted on the task pipe to ask a worker to exit
// gracefully; it is a Task whose TaskID is this reserved value.
const shutdownSentinelTaskID = "__shutdown__"

// frameWriter and frameReader implement the length-prefixed JSON framing
// used on both pipes: a 4-byte big-endian length prefix followed by that
// many bytes of JSON. This is simpler and more robust across partial reads
// than newline-delimited JSON when payloads may contain arbitrary bytes.
type frameWriter struct {
	w io.Writer
}

func newFrameWriter(w io.Writer) *frameWriter { return &frameWriter{w: w} }

func (f *frameWriter) WriteFrame(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := f.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := f.w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

type frameReader struct {
	r io.Reader
}

func newFrameReader(r io.Reader) *frameReader { return &frameReader{r: r} }

const maxFrameBytes = 64 << 20 // 64MiB: generous upper bound on a single task/response payload

func (f *frameReader) ReadFrame(v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(f.r, lenBuf[:]); err != nil {
		return err // io.EOF propagates unwrapped so callers can detect pipe close
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return fmt.Errorf("frame of %d bytes exceeds max %d", n, maxFrameBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(f.r, body); err != nil {
		return fmt.Errorf("read frame body: %w", err)
	}
	return json.Unmarshal(body, v)
}
