package ws

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type noopFlusher struct{ flushes int }

func (f *noopFlusher) Flush() { f.flushes++ }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func newTestStream(w io.Writer, f *noopFlusher) *ProgressStream {
	return NewProgressStream(w, f, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSendWritesDataFrame(t *testing.T) {
	var buf bytes.Buffer
	flusher := &noopFlusher{}
	stream := newTestStream(&buf, flusher)

	if err := stream.Send([]byte(`{"pipelineId":"p1"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := buf.String(); got != "data: {\"pipelineId\":\"p1\"}\n\n" {
		t.Fatalf("unexpected frame: %q", got)
	}
	if flusher.flushes != 1 {
		t.Fatalf("expected one flush, got %d", flusher.flushes)
	}
}

func TestSendEventWritesNamedFrame(t *testing.T) {
	var buf bytes.Buffer
	stream := newTestStream(&buf, &noopFlusher{})

	if err := stream.SendEvent("complete", []byte("{}")); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	if got := buf.String(); got != "event: complete\ndata: {}\n\n" {
		t.Fatalf("unexpected frame: %q", got)
	}
}

func TestHeartbeatWritesComment(t *testing.T) {
	var buf bytes.Buffer
	stream := newTestStream(&buf, &noopFlusher{})

	if err := stream.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if !strings.HasPrefix(buf.String(), ": ping") {
		t.Fatalf("unexpected frame: %q", buf.String())
	}
}

func TestSendAfterCloseReturnsEOF(t *testing.T) {
	var buf bytes.Buffer
	stream := newTestStream(&buf, &noopFlusher{})

	stream.Close()
	if err := stream.Send([]byte("{}")); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("frame written after close: %q", buf.String())
	}
}

func TestWriteFailureClosesStream(t *testing.T) {
	stream := newTestStream(failingWriter{}, &noopFlusher{})

	if err := stream.Send([]byte("{}")); err == nil {
		t.Fatal("expected write error")
	}
	// subsequent sends must not touch the writer again
	if err := stream.Send([]byte("{}")); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on closed stream, got %v", err)
	}
}
