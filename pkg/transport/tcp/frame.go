package tcp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
)

// Chunk response header: [hex hash (64 bytes)] + [payload length (4 bytes, big endian)]
const HeaderSize = protocol.HashLen + 4

var (
	ErrFrameTooLarge   = errors.New("frame payload exceeds limit")
	ErrRequestTooLarge = errors.New("request line exceeds limit")
)

// WriteChunkFrame writes a framed chunk response.
func WriteChunkFrame(w io.Writer, hash string, payload []byte) error {
	if len(hash) != protocol.HashLen {
		return fmt.Errorf("invalid hash length %d", len(hash))
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(payload))
	copy(buf, hash)
	binary.BigEndian.PutUint32(buf[protocol.HashLen:], uint32(len(payload)))
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// ReadChunkFrame reads one framed chunk response. A connection closed before the header
// is complete returns io.EOF or io.ErrUnexpectedEOF; a short payload returns
// io.ErrUnexpectedEOF.
func ReadChunkFrame(r io.Reader, maxLen uint32) (string, []byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", nil, err
	}

	hash := string(header[:protocol.HashLen])
	length := binary.BigEndian.Uint32(header[protocol.HashLen:])
	if length > maxLen {
		return "", nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxLen)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", nil, fmt.Errorf("truncated payload: %w", err)
	}
	return hash, payload, nil
}

// ReadRequestLine reads a single line of at most max bytes. A final line without a
// newline is accepted when the peer closes its side.
func ReadRequestLine(r io.Reader, max int) (string, error) {
	br := bufio.NewReaderSize(io.LimitReader(r, int64(max)), max)
	line, err := br.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		if len(line) >= max {
			return "", ErrRequestTooLarge
		}
		if line == "" {
			return "", io.EOF
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}
