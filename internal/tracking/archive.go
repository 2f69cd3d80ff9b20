package tracking

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"trackd/internal/model"
)

// ExportSealed writes a ZIP archive of every sealed record to w, one JSON
// document per record. Open records are never exported: only a sealed
// record is a finished, immutable report.
func (s *TrackingService) ExportSealed(w io.Writer) error {
	keys, err := s.store.ListKeys(model.StateSealed)
	if err != nil {
		return fmt.Errorf("listing sealed records: %w", err)
	}

	zw := zip.NewWriter(w)
	count := 0
	for _, key := range keys {
		record, _, err := s.store.Get(key)
		if errors.Is(err, ErrNotFound) {
			// Deleted between the listing and the read.
			s.logger.Debug("skipping vanished record during export", "key", key)
			continue
		}
		if err != nil {
			return fmt.Errorf("loading sealed record %q: %w", key, err)
		}
		if !record.Sealed() {
			continue
		}

		entry, err := zw.Create(url.PathEscape(string(key)) + ".json")
		if err != nil {
			return fmt.Errorf("creating archive entry for %q: %w", key, err)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encoding record %q: %w", key, err)
		}
		if _, err := entry.Write(data); err != nil {
			return fmt.Errorf("writing archive entry for %q: %w", key, err)
		}
		count++
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	s.logger.Info("exported sealed records", "count", count)
	return nil
}

// ImportArchive reads a ZIP archive in the ExportSealed layout and stores
// every contained record as sealed, overwriting records with the same key.
// Used to migrate tracking data between deployments.
func (s *TrackingService) ImportArchive(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading archive: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("opening archive: %w", err)
	}

	opID := s.idgen.New()
	imported := 0
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".json") {
			s.logger.Warn("skipping unexpected archive entry", "name", f.Name, "import", opID)
			continue
		}

		record, err := readArchivedRecord(f)
		if err != nil {
			return imported, fmt.Errorf("reading archive entry %q: %w", f.Name, err)
		}
		record.State = model.StateSealed

		_, err = s.update(record.Key, func(*model.TrackedContent) (*model.TrackedContent, error) {
			return record, nil
		})
		if err != nil {
			return imported, fmt.Errorf("storing imported record %q: %w", record.Key, err)
		}
		imported++
	}

	s.logger.Info("imported sealed records", "count", imported, "import", opID)
	return imported, nil
}

func readArchivedRecord(f *zip.File) (*model.TrackedContent, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var record model.TrackedContent
	if err := json.NewDecoder(rc).Decode(&record); err != nil {
		return nil, err
	}
	if record.Key == "" {
		return nil, fmt.Errorf("archived record has no tracking key")
	}
	return &record, nil
}
