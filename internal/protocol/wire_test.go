package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestTransport_IntRoundTrip(t *testing.T) {
	values := []int32{0, 1, 29, 30, 31, -1, 1<<31 - 1, -(1 << 31)}

	var buf bytes.Buffer
	tr := NewTransport(&buf, &buf)

	for _, v := range values {
		if err := tr.WriteInt(v); err != nil {
			t.Fatalf("WriteInt(%d) failed: %v", v, err)
		}
	}
	for _, want := range values {
		got, err := tr.ReadInt()
		if err != nil {
			t.Fatalf("ReadInt failed: %v", err)
		}
		if got != want {
			t.Errorf("ReadInt = %d, want %d", got, want)
		}
	}
}

func TestTransport_IntByteOrder(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTransport(&buf, &buf)

	if err := tr.WriteInt(30); err != nil {
		t.Fatalf("WriteInt failed: %v", err)
	}

	// The wire carries 32-bit little-endian integers.
	want := []byte{30, 0, 0, 0}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wire bytes = %v, want %v", buf.Bytes(), want)
	}
}

func TestTransport_ReadIntClosed(t *testing.T) {
	tr := NewTransport(bytes.NewReader([]byte{30, 0}), &bytes.Buffer{})

	_, err := tr.ReadInt()
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("ReadInt on truncated stream = %v, want ErrConnectionClosed", err)
	}
}

func TestTransport_LineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTransport(&buf, &buf)

	if err := tr.WriteLine("backups secret-value"); err != nil {
		t.Fatalf("WriteLine failed: %v", err)
	}
	got, err := tr.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if got != "backups secret-value" {
		t.Errorf("ReadLine = %q, want %q", got, "backups secret-value")
	}
}

func TestTransport_LineTooLong(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTransport(&buf, &buf)

	if err := tr.WriteLine(string(make([]byte, MaxLineSize+1))); err == nil {
		t.Error("expected error for oversized line, got nil")
	}

	// An oversized length prefix on the read side is rejected too.
	if err := tr.WriteInt(MaxLineSize + 1); err != nil {
		t.Fatalf("WriteInt failed: %v", err)
	}
	if _, err := tr.ReadLine(); err == nil {
		t.Error("expected error for oversized length prefix, got nil")
	}
}
