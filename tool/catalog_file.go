package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	fileCatalogVersionV1 = "1"
	defaultCatalogDir    = ".petaltools"
	defaultFileCatalog   = "catalog.json"
)

var errEmptyCatalogPath = errors.New("tool: catalog path is empty")

// CatalogRecord is the persisted summary of one registered tool.
type CatalogRecord struct {
	Name         string    `json:"name"`
	Kind         Kind      `json:"kind"`
	Description  string    `json:"description"`
	Origin       string    `json:"origin,omitempty"`
	Command      string    `json:"command,omitempty"`
	Revision     int       `json:"revision"`
	RegisteredAt time.Time `json:"registered_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Catalog persists registration records for inspection outside the running
// process. The in-memory Registry stays the source of truth.
type Catalog interface {
	Record(ctx context.Context, rec CatalogRecord) error
	List(ctx context.Context) ([]CatalogRecord, error)
	Close() error
}

type fileCatalogDocument struct {
	Version string          `json:"version"`
	Tools   []CatalogRecord `json:"tools"`
}

// FileCatalog persists catalog records in a local JSON file.
type FileCatalog struct {
	path string
	mu   sync.RWMutex
}

// NewFileCatalog creates a file-backed catalog at the given path.
func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{path: path}
}

// DefaultFileCatalogPath returns ~/.petaltools/catalog.json.
func DefaultFileCatalogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tool: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultCatalogDir, defaultFileCatalog), nil
}

// Path returns the backing file path.
func (c *FileCatalog) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

// List returns all records in name order.
func (c *FileCatalog) List(ctx context.Context) ([]CatalogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("tool: file catalog is nil")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.load()
}

// Record inserts or updates a record by name. The first RegisteredAt seen
// for a name is kept.
func (c *FileCatalog) Record(ctx context.Context, rec CatalogRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c == nil {
		return errors.New("tool: file catalog is nil")
	}
	if strings.TrimSpace(rec.Name) == "" {
		return errors.New("tool: catalog record name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recs, err := c.load()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	index := slices.IndexFunc(recs, func(existing CatalogRecord) bool {
		return existing.Name == rec.Name
	})
	if index >= 0 && !recs[index].RegisteredAt.IsZero() {
		rec.RegisteredAt = recs[index].RegisteredAt
	}
	if rec.RegisteredAt.IsZero() {
		rec.RegisteredAt = now
	}

	if index >= 0 {
		recs[index] = rec
	} else {
		recs = append(recs, rec)
	}
	return c.save(recs)
}

// Close is a no-op for file catalogs.
func (c *FileCatalog) Close() error {
	return nil
}

func (c *FileCatalog) load() ([]CatalogRecord, error) {
	if strings.TrimSpace(c.path) == "" {
		return nil, errEmptyCatalogPath
	}

	// #nosec G304 -- path is configured by caller and constrained to local filesystem usage.
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []CatalogRecord{}, nil
		}
		return nil, fmt.Errorf("tool: read catalog: %w", err)
	}
	if len(data) == 0 {
		return []CatalogRecord{}, nil
	}

	var doc fileCatalogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tool: decode catalog: %w", err)
	}
	if doc.Tools == nil {
		return []CatalogRecord{}, nil
	}
	sortCatalogRecords(doc.Tools)
	return doc.Tools, nil
}

func (c *FileCatalog) save(recs []CatalogRecord) error {
	sortCatalogRecords(recs)
	doc := fileCatalogDocument{
		Version: fileCatalogVersionV1,
		Tools:   recs,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("tool: encode catalog: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return fmt.Errorf("tool: create catalog dir: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("tool: write temp catalog file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("tool: replace catalog file: %w", err)
	}
	return nil
}

func sortCatalogRecords(recs []CatalogRecord) {
	slices.SortFunc(recs, func(a, b CatalogRecord) int {
		return strings.Compare(a.Name, b.Name)
	})
}

var _ Catalog = (*FileCatalog)(nil)
