package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"trackd/internal/model"
	"trackd/internal/tracking"
)

// FilesystemStore keeps each tracking record as a JSON document on disk,
// one file per record under the store's base directory. Record files carry
// their version alongside the record so conditional puts survive process
// restarts. Version checks are serialized by a per-process mutex; the
// filesystem backend is meant for a single service instance.
type FilesystemStore struct {
	name    string
	baseDir string
	mu      sync.Mutex
}

const (
	recordsDir = "records"
	legacyDir  = "legacy"
)

// recordDocument is the on-disk envelope for a record and its version.
type recordDocument struct {
	Version uint64                `json:"version"`
	Record  *model.TrackedContent `json:"record"`
}

// NewFilesystemStore creates a filesystem-backed record store rooted at
// baseDir, creating the directory layout if needed.
func NewFilesystemStore(name, baseDir string) (*FilesystemStore, error) {
	for _, dir := range []string{recordsDir, legacyDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	return &FilesystemStore{name: name, baseDir: baseDir}, nil
}

func (f *FilesystemStore) Get(key model.TrackingKey) (*model.TrackedContent, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readDocument(key)
	if err != nil {
		return nil, 0, err
	}
	return doc.Record, doc.Version, nil
}

func (f *FilesystemStore) Put(key model.TrackingKey, record *model.TrackedContent, expectedVersion uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readDocument(key)
	switch {
	case errors.Is(err, tracking.ErrNotFound):
		if expectedVersion != 0 {
			return tracking.ErrConflict
		}
	case err != nil:
		return err
	default:
		if doc.Version != expectedVersion {
			return tracking.ErrConflict
		}
	}

	next := recordDocument{Version: expectedVersion + 1, Record: record}
	return f.writeFile(f.recordPath(key), &next)
}

func (f *FilesystemStore) Delete(key model.TrackingKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.recordPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting record file: %w", err)
	}
	return nil
}

func (f *FilesystemStore) ListKeys(state model.RecordState) ([]model.TrackingKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys, err := listKeyFiles(filepath.Join(f.baseDir, recordsDir))
	if err != nil {
		return nil, err
	}

	var matched []model.TrackingKey
	for _, key := range keys {
		doc, err := f.readDocument(key)
		if errors.Is(err, tracking.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if doc.Record.State == state {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

func (f *FilesystemStore) GetLegacy(key model.TrackingKey) (*model.TrackedContent, error) {
	data, err := os.ReadFile(f.legacyPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading legacy record file: %w", err)
	}

	var record model.TrackedContent
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding legacy record %q: %w", key, err)
	}
	return &record, nil
}

func (f *FilesystemStore) PutLegacy(key model.TrackingKey, record *model.TrackedContent) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding legacy record %q: %w", key, err)
	}
	return atomicWrite(f.legacyPath(key), data)
}

func (f *FilesystemStore) ListLegacyKeys() ([]model.TrackingKey, error) {
	return listKeyFiles(filepath.Join(f.baseDir, legacyDir))
}

func (f *FilesystemStore) Close() error { return nil }

func (f *FilesystemStore) readDocument(key model.TrackingKey) (*recordDocument, error) {
	data, err := os.ReadFile(f.recordPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading record file: %w", err)
	}

	var doc recordDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding record %q: %w", key, err)
	}
	if doc.Record == nil {
		return nil, fmt.Errorf("record file %q has no record", key)
	}
	return &doc, nil
}

func (f *FilesystemStore) writeFile(path string, doc *recordDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return atomicWrite(path, data)
}

// atomicWrite writes data to a temp file in the target directory and
// renames it into place so readers never observe a partial document.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing record file: %w", err)
	}
	return nil
}

// Tracking keys are opaque strings chosen by clients, so filenames use the
// path-escaped form of the key.
func (f *FilesystemStore) recordPath(key model.TrackingKey) string {
	return filepath.Join(f.baseDir, recordsDir, url.PathEscape(string(key))+".json")
}

func (f *FilesystemStore) legacyPath(key model.TrackingKey) string {
	return filepath.Join(f.baseDir, legacyDir, url.PathEscape(string(key))+".json")
}

func listKeyFiles(dir string) ([]model.TrackingKey, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing record files: %w", err)
	}

	var keys []model.TrackingKey
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		unescaped, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, fmt.Errorf("unexpected record filename %q: %w", name, err)
		}
		keys = append(keys, model.TrackingKey(unescaped))
	}
	return keys, nil
}

// Compile-time check that FilesystemStore implements the RecordStore interface
var _ tracking.RecordStore = (*FilesystemStore)(nil)
