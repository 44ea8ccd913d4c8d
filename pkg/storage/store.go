package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"tarun-kavipurapu/p2p-swarm/pkg"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
)

const (
	// DownloadPrefix marks files fetched from the swarm.
	DownloadPrefix = "dl_"
	tempDirPrefix  = ".tmp-"
	assembledName  = "assembled"
)

var ErrChunkOutOfRange = errors.New("chunk index out of range")

type cachedMeta struct {
	size    int64
	modTime time.Time
	meta    pkg.ChunkMeta
}

// Store is the node's shared directory. Everything the node serves, downloads and
// assembles lives under root.
type Store struct {
	fs   afero.Fs
	root string

	mu    sync.Mutex
	cache map[string]cachedMeta
}

func NewStore(fs afero.Fs, root string) *Store {
	return &Store{
		fs:    fs,
		root:  root,
		cache: make(map[string]cachedMeta),
	}
}

// SharedDir returns the shared directory for a node listening on port.
func SharedDir(baseDir string, port int) string {
	return filepath.Join(baseDir, fmt.Sprintf("shared_%d", port))
}

// Init creates the shared directory if it does not exist.
func (s *Store) Init() error {
	if err := s.fs.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("failed to create shared directory %s: %w", s.root, err)
	}
	return nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// DownloadName returns the name a downloaded copy of filename is stored under.
func DownloadName(filename string) string {
	return DownloadPrefix + filename
}

// Catalog hashes every regular file directly under the shared directory. Files whose size
// and modification time are unchanged since the last call are not rehashed, and hashing
// happens without holding the cache lock. Files larger than protocol.MaxFileSize are left out.
func (s *Store) Catalog() (pkg.Catalog, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list shared directory: %w", err)
	}

	s.mu.Lock()
	previous := s.cache
	s.mu.Unlock()

	catalog := make(pkg.Catalog, len(entries))
	fresh := make(map[string]cachedMeta, len(entries))
	for _, entry := range entries {
		if !entry.Mode().IsRegular() || !protocol.ValidFilename(entry.Name()) {
			continue
		}
		name := entry.Name()
		if entry.Size() > protocol.MaxFileSize {
			logger.Sugar.Warnf("[Store] skipping %s: %d bytes exceeds the %d byte limit", name, entry.Size(), int64(protocol.MaxFileSize))
			continue
		}

		cached, ok := previous[name]
		if !ok || cached.size != entry.Size() || !cached.modTime.Equal(entry.ModTime()) {
			hash, err := s.FullHash(name)
			if err != nil {
				logger.Sugar.Warnf("[Store] skipping %s: %v", name, err)
				continue
			}
			cached = cachedMeta{
				size:    entry.Size(),
				modTime: entry.ModTime(),
				meta: pkg.ChunkMeta{
					TotalChunks: protocol.TotalChunks(entry.Size()),
					FileHash:    hash,
				},
			}
		}
		fresh[name] = cached
		catalog[name] = cached.meta
	}

	s.mu.Lock()
	s.cache = fresh
	s.mu.Unlock()
	return catalog, nil
}

// FullHash returns the SHA-256 of a file in the shared directory.
func (s *Store) FullHash(name string) (string, error) {
	file, err := s.fs.Open(s.Path(name))
	if err != nil {
		return "", err
	}
	defer file.Close()
	return HashFile(file)
}

// ReadChunk reads the 1-based chunk index of name. A missing file returns an error
// satisfying os.IsNotExist; an index past the end returns ErrChunkOutOfRange.
func (s *Store) ReadChunk(name string, index int) ([]byte, error) {
	file, err := s.fs.Open(s.Path(name))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", name)
	}
	if index < 1 || index > protocol.TotalChunks(info.Size()) {
		return nil, fmt.Errorf("%w: %s has no chunk %d", ErrChunkOutOfRange, name, index)
	}

	offset := int64(index-1) * protocol.ChunkSize
	length := info.Size() - offset
	if length > protocol.ChunkSize {
		length = protocol.ChunkSize
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(file, offset, length), data); err != nil {
		return nil, fmt.Errorf("failed to read chunk %d of %s: %w", index, name, err)
	}
	return data, nil
}

// CreateFragmentDir makes a fresh temporary area for one download.
func (s *Store) CreateFragmentDir() (string, error) {
	dir := filepath.Join(s.root, tempDirPrefix+uuid.NewString())
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create fragment directory: %w", err)
	}
	return dir, nil
}

func fragmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%d.chunk", index))
}

func (s *Store) WriteFragment(dir string, index int, data []byte) error {
	if err := afero.WriteFile(s.fs, fragmentPath(dir, index), data, 0644); err != nil {
		return fmt.Errorf("failed to write fragment %d: %w", index, err)
	}
	return nil
}

// Fragments lists the fragment files currently present in dir.
func (s *Store) Fragments(dir string) ([]string, error) {
	return afero.Glob(s.fs, filepath.Join(dir, "chunk_*.chunk"))
}

// Reassemble concatenates fragments 1..totalChunks of dir in order, then moves the result
// to outName in the shared directory. It returns the output path, its hash and size.
func (s *Store) Reassemble(dir string, totalChunks int, outName string) (string, string, int64, error) {
	tmpPath := filepath.Join(dir, assembledName)
	out, err := s.fs.Create(tmpPath)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to create assembly file: %w", err)
	}

	h := sha256.New()
	w := io.MultiWriter(out, h)
	var size int64
	for index := 1; index <= totalChunks; index++ {
		n, err := s.appendFragment(w, dir, index)
		if err != nil {
			_ = out.Close()
			return "", "", 0, err
		}
		size += n
	}
	if err := out.Close(); err != nil {
		return "", "", 0, fmt.Errorf("failed to close assembly file: %w", err)
	}

	finalPath := s.Path(outName)
	if err := s.fs.Rename(tmpPath, finalPath); err != nil {
		return "", "", 0, fmt.Errorf("failed to move %s into place: %w", outName, err)
	}
	return finalPath, hex.EncodeToString(h.Sum(nil)), size, nil
}

func (s *Store) appendFragment(w io.Writer, dir string, index int) (int64, error) {
	frag, err := s.fs.Open(fragmentPath(dir, index))
	if err != nil {
		return 0, fmt.Errorf("missing fragment %d: %w", index, err)
	}
	defer frag.Close()

	n, err := io.Copy(w, frag)
	if err != nil {
		return n, fmt.Errorf("failed to append fragment %d: %w", index, err)
	}
	return n, nil
}

// RemoveAll deletes a temporary area and everything in it.
func (s *Store) RemoveAll(dir string) error {
	return s.fs.RemoveAll(dir)
}

func (s *Store) Exists(name string) bool {
	ok, err := afero.Exists(s.fs, s.Path(name))
	return err == nil && ok
}
