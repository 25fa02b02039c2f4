package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// MaxLineSize caps the length-prefixed strings exchanged before the version
// handshake (the authentication line). The handshake integers themselves are
// fixed four-byte values.
const MaxLineSize = 4096

// Transport carries the handshake exchange over an established byte stream.
// Integers are 32-bit little-endian, matching the rest of the wire format.
// Reads and writes are independently synchronized; each call blocks until the
// peer supplies or accepts the bytes.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewTransport creates a Transport over the given reader and writer. Both
// typically point at the same stream.
func NewTransport(r io.Reader, w io.Writer) *Transport {
	return &Transport{
		reader: bufio.NewReader(r),
		writer: w,
	}
}

// WriteInt writes one 32-bit little-endian integer.
func (t *Transport) WriteInt(v int32) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	if _, err := t.writer.Write(buf[:]); err != nil {
		return fmt.Errorf("write int: %w", err)
	}
	return nil
}

// ReadInt reads one 32-bit little-endian integer.
func (t *Transport) ReadInt() (int32, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	var buf [4]byte
	if _, err := io.ReadFull(t.reader, buf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, ErrConnectionClosed
		}
		return 0, fmt.Errorf("read int: %w", err)
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteLine writes a length-prefixed string. Used only for the optional
// pre-handshake authentication exchange, never for the version or seed.
func (t *Transport) WriteLine(s string) error {
	if len(s) > MaxLineSize {
		return fmt.Errorf("line length %d exceeds maximum of %d bytes", len(s), MaxLineSize)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(s)))
	if _, err := t.writer.Write(buf[:]); err != nil {
		return fmt.Errorf("write line length: %w", err)
	}
	if _, err := io.WriteString(t.writer, s); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

// ReadLine reads a length-prefixed string written by WriteLine.
func (t *Transport) ReadLine() (string, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	var buf [4]byte
	if _, err := io.ReadFull(t.reader, buf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return "", ErrConnectionClosed
		}
		return "", fmt.Errorf("read line length: %w", err)
	}
	n := binary.LittleEndian.Uint32(buf[:])
	if n > MaxLineSize {
		return "", fmt.Errorf("line length %d exceeds maximum of %d bytes", n, MaxLineSize)
	}
	line := make([]byte, n)
	if _, err := io.ReadFull(t.reader, line); err != nil {
		return "", fmt.Errorf("read line: %w", err)
	}
	return string(line), nil
}
