package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"tarun-kavipurapu/p2p-swarm/pkg"
)

const (
	// ChunkSize is the fixed chunk length; only the last chunk of a file may be shorter.
	ChunkSize = 4 * 1024
	// HashLen is the length of a hex encoded SHA-256 digest.
	HashLen = 64

	DiscoveryKind = "discovery"

	// MaxRequestLine bounds the chunk request line read by the server.
	MaxRequestLine = 1024
	// MaxDatagramSize is the largest IPv4 UDP payload.
	MaxDatagramSize = 65507

	// MaxFileSize is the largest file a node shares or downloads.
	MaxFileSize = 16 << 30
	// MaxTotalChunks is the chunk count of a MaxFileSize file.
	MaxTotalChunks = MaxFileSize / ChunkSize
)

var (
	ErrMalformedRequest   = errors.New("malformed chunk request")
	ErrMalformedDiscovery = errors.New("malformed discovery message")
)

// DiscoveryMessage is the periodic broadcast announcing a node's chunk server port and catalog.
type DiscoveryMessage struct {
	Kind   string      `json:"kind"`
	NodeID string      `json:"node_id,omitempty"`
	Port   int         `json:"port"`
	Files  pkg.Catalog `json:"files"`
}

func NewDiscoveryMessage(nodeID string, port int, files pkg.Catalog) DiscoveryMessage {
	if files == nil {
		files = pkg.Catalog{}
	}
	return DiscoveryMessage{
		Kind:   DiscoveryKind,
		NodeID: nodeID,
		Port:   port,
		Files:  files,
	}
}

func EncodeDiscovery(msg DiscoveryMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeDiscovery parses and validates a datagram. Any structural problem, including a
// single bad catalog entry, rejects the whole message.
func DecodeDiscovery(data []byte) (DiscoveryMessage, error) {
	var msg DiscoveryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return DiscoveryMessage{}, fmt.Errorf("%w: %v", ErrMalformedDiscovery, err)
	}
	if err := msg.Validate(); err != nil {
		return DiscoveryMessage{}, err
	}
	if msg.Files == nil {
		msg.Files = pkg.Catalog{}
	}
	return msg, nil
}

func (m DiscoveryMessage) Validate() error {
	if m.Kind != DiscoveryKind {
		return fmt.Errorf("%w: kind %q", ErrMalformedDiscovery, m.Kind)
	}
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrMalformedDiscovery, m.Port)
	}
	for name, meta := range m.Files {
		if !ValidFilename(name) {
			return fmt.Errorf("%w: filename %q", ErrMalformedDiscovery, name)
		}
		if meta.TotalChunks < 1 || meta.TotalChunks > MaxTotalChunks {
			return fmt.Errorf("%w: %s has %d chunks", ErrMalformedDiscovery, name, meta.TotalChunks)
		}
		if !ValidHash(meta.FileHash) {
			return fmt.Errorf("%w: %s has hash %q", ErrMalformedDiscovery, name, meta.FileHash)
		}
	}
	return nil
}

// ValidHash reports whether s is 64 lowercase hex characters.
func ValidHash(s string) bool {
	if len(s) != HashLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ValidFilename accepts bare names only, so a request can never leave the shared directory.
func ValidFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\n\r") {
		return false
	}
	return filepath.Base(name) == name
}

// FormatChunkRequest builds the request line sent to a chunk server.
func FormatChunkRequest(filename string, index int) string {
	return fmt.Sprintf("chunk %s %d\n", filename, index)
}

// ParseChunkRequest parses `chunk <filename> <index>`. The filename may contain spaces;
// the index is the last field and must be a positive integer.
func ParseChunkRequest(line string) (string, int, error) {
	line = strings.TrimRight(line, "\r\n")
	rest, ok := strings.CutPrefix(line, "chunk ")
	if !ok {
		return "", 0, ErrMalformedRequest
	}
	sep := strings.LastIndexByte(rest, ' ')
	if sep <= 0 {
		return "", 0, ErrMalformedRequest
	}
	filename, indexStr := rest[:sep], rest[sep+1:]
	if !ValidFilename(filename) {
		return "", 0, fmt.Errorf("%w: filename %q", ErrMalformedRequest, filename)
	}
	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 1 {
		return "", 0, fmt.Errorf("%w: index %q", ErrMalformedRequest, indexStr)
	}
	return filename, index, nil
}

// TotalChunks returns the chunk count for a file of size bytes. An empty file is one
// empty chunk.
func TotalChunks(size int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + ChunkSize - 1) / ChunkSize)
}
