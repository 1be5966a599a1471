package file

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/xerrors"
)

var ErrStore = errors.New("file: block store failure")

// BlockStore keeps one newline-delimited payload. WriteLines replaces
// whatever was stored before.
type BlockStore interface {
	WriteLines(lines [][]byte) error
	ReadLines() ([][]byte, error)
}

// LocalFileSystemAdapter stores lines in a single file on disk, each
// terminated by a newline so ReadBlocks returns them unchanged.
type LocalFileSystemAdapter struct {
	mu   sync.Mutex
	path string
}

func NewLocalFileSystemAdapter(path string) *LocalFileSystemAdapter {
	return &LocalFileSystemAdapter{path: path}
}

func (a *LocalFileSystemAdapter) Path() string {
	return a.path
}

func (a *LocalFileSystemAdapter) WriteLines(lines [][]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if dir := filepath.Dir(a.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return xerrors.Errorf("create %s: %v: %w", dir, err, ErrStore)
		}
	}
	// write to a sibling file and rename so readers never see a partial payload
	tmp := a.path + ".tmp"
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return xerrors.Errorf("write %s: %v: %w", tmp, err, ErrStore)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return xerrors.Errorf("replace %s: %v: %w", a.path, err, ErrStore)
	}
	return nil
}

func (a *LocalFileSystemAdapter) ReadLines() ([][]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ReadBlocks(a.path)
}

// MemoryBlockStore keeps lines in process memory.
type MemoryBlockStore struct {
	mu    sync.RWMutex
	lines [][]byte
	set   bool
}

func NewMemoryBlockStore() *MemoryBlockStore {
	return &MemoryBlockStore{}
}

func (m *MemoryBlockStore) WriteLines(lines [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = copyLines(lines)
	m.set = true
	return nil
}

func (m *MemoryBlockStore) ReadLines() ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return nil, xerrors.Errorf("nothing stored: %w", os.ErrNotExist)
	}
	return copyLines(m.lines), nil
}

// Tamper overwrites one stored line in place.
func (m *MemoryBlockStore) Tamper(index int, line []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[index] = append([]byte(nil), line...)
}

func copyLines(lines [][]byte) [][]byte {
	out := make([][]byte, len(lines))
	for i, l := range lines {
		out[i] = append([]byte{}, l...)
	}
	return out
}

// ReadBlocks splits the file at path into lines. A trailing newline does not
// produce an empty last block and CRLF endings are accepted.
func ReadBlocks(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var blocks [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		blocks = append(blocks, []byte(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("read %s: %v: %w", path, err, ErrStore)
	}
	return blocks, nil
}
