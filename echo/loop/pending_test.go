package loop

import (
	"bytes"
	"errors"
	"testing"
)

func TestPendingBufferAppendConsume(t *testing.T) {
	buf := NewPendingBuffer(1024)

	if buf.Len() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", buf.Len())
	}

	if err := buf.Append([]byte("hello ")); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if err := buf.Append([]byte("world")); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	if !bytes.Equal(buf.Bytes(), []byte("hello world")) {
		t.Errorf("expected %q, got %q", "hello world", buf.Bytes())
	}

	// Partial consume keeps the unsent remainder in order
	buf.Consume(6)
	if !bytes.Equal(buf.Bytes(), []byte("world")) {
		t.Errorf("expected %q after consume, got %q", "world", buf.Bytes())
	}

	// Consuming more than buffered empties the buffer
	buf.Consume(100)
	if buf.Len() != 0 {
		t.Errorf("expected empty buffer after full consume, got %d bytes", buf.Len())
	}
}

func TestPendingBufferOverflow(t *testing.T) {
	buf := NewPendingBuffer(8)

	if err := buf.Append([]byte("12345678")); err != nil {
		t.Fatalf("append at the limit should succeed, got %v", err)
	}

	err := buf.Append([]byte("x"))
	if !errors.Is(err, ErrPendingOverflow) {
		t.Fatalf("expected ErrPendingOverflow, got %v", err)
	}

	// A failed append must leave the buffer unchanged
	if !bytes.Equal(buf.Bytes(), []byte("12345678")) {
		t.Errorf("buffer changed by failed append: %q", buf.Bytes())
	}

	// The limit applies to the total, not per call
	buf.Consume(4)
	if err := buf.Append([]byte("abcd")); err != nil {
		t.Errorf("append after consume should succeed, got %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte("5678abcd")) {
		t.Errorf("expected %q, got %q", "5678abcd", buf.Bytes())
	}
}

func TestPendingBufferAppendEmpty(t *testing.T) {
	buf := NewPendingBuffer(1)

	// Empty appends never fail, even on a full buffer
	if err := buf.Append([]byte("x")); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if err := buf.Append(nil); err != nil {
		t.Errorf("empty append should succeed, got %v", err)
	}
}

func TestPendingBufferUnlimited(t *testing.T) {
	buf := NewPendingBuffer(0)

	large := make([]byte, 1024*1024)
	if err := buf.Append(large); err != nil {
		t.Errorf("unlimited buffer should accept any size, got %v", err)
	}

	buf.Reset()
	if buf.Len() != 0 {
		t.Errorf("expected empty buffer after reset, got %d bytes", buf.Len())
	}
}

func TestConnStateString(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateConnected, "connected"},
		{StateClosing, "closing"},
		{ConnState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ConnState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestCountersSnapshot(t *testing.T) {
	var c Counters
	c.ConnsAccepted.Add(3)
	c.ConnsActive.Add(2)
	c.BytesRead.Add(100)
	c.BytesWritten.Add(90)
	c.PartialWrites.Add(1)
	c.ConnsDropped.Add(1)

	s := c.Snapshot()
	if s.ConnsAccepted != 3 || s.ConnsActive != 2 || s.BytesRead != 100 ||
		s.BytesWritten != 90 || s.PartialWrites != 1 || s.ConnsDropped != 1 {
		t.Errorf("unexpected snapshot: %+v", s)
	}
}
