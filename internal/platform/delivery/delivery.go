// Package delivery hands generated documents to their destination: a
// directory on disk for the CLI and the archiving server, or memory for tests.
package delivery

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrMissingFileName = errors.New("delivery: file name is required")
	ErrInvalidFileName = errors.New("delivery: file name has no usable base name")
	ErrNotFound        = errors.New("delivery: document not found")
)

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Receipt describes one delivered document.
type Receipt struct {
	FileName    string    `json:"fileName"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// Deliverer stores a document under name. Implementations keep only the base
// name so a document date containing path separators cannot escape the
// destination.
type Deliverer interface {
	Deliver(ctx context.Context, name string, content []byte) (*Receipt, error)
}

// SafeFileName reduces name to its final path element.
func SafeFileName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrMissingFileName
	}
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	switch base {
	case ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return base, nil
}

func newReceipt(name, path string, content []byte) *Receipt {
	return &Receipt{
		FileName:    name,
		Path:        path,
		Size:        int64(len(content)),
		SHA256:      fmt.Sprintf("%x", sha256.Sum256(content)),
		DeliveredAt: time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// Directory implementation
// ---------------------------------------------------------------------------

// DirectoryDeliverer writes documents into a directory, creating it on first
// use. Files are written to a temporary name and renamed so readers never
// observe a partial document.
type DirectoryDeliverer struct {
	dir string
}

// NewDirectoryDeliverer returns a DirectoryDeliverer rooted at dir.
func NewDirectoryDeliverer(dir string) *DirectoryDeliverer {
	return &DirectoryDeliverer{dir: dir}
}

// Dir returns the destination directory.
func (d *DirectoryDeliverer) Dir() string { return d.dir }

func (d *DirectoryDeliverer) Deliver(ctx context.Context, name string, content []byte) (*Receipt, error) {
	base, err := SafeFileName(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return nil, fmt.Errorf("delivery: create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, "."+base+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("delivery: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("delivery: write %s: %w", base, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("delivery: close %s: %w", base, err)
	}

	path := filepath.Join(d.dir, base)
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("delivery: rename %s: %w", base, err)
	}
	return newReceipt(base, path, content), nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// MemoryDeliverer is a thread-safe, in-memory Deliverer for tests. A second
// delivery under the same name replaces the first, as it would on disk.
type MemoryDeliverer struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryDeliverer returns a ready-to-use MemoryDeliverer.
func NewMemoryDeliverer() *MemoryDeliverer {
	return &MemoryDeliverer{docs: make(map[string][]byte)}
}

func (m *MemoryDeliverer) Deliver(ctx context.Context, name string, content []byte) (*Receipt, error) {
	base, err := SafeFileName(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := make([]byte, len(content))
	copy(data, content)

	m.mu.Lock()
	m.docs[base] = data
	m.mu.Unlock()

	return newReceipt(base, base, content), nil
}

// Get returns a copy of the document delivered under name.
func (m *MemoryDeliverer) Get(name string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.docs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Names lists delivered file names in sorted order.
func (m *MemoryDeliverer) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.docs))
	for n := range m.docs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
