// Package storage persists document artifacts on disk under a deterministic
// naming scheme, so a given document always maps to the same file and a
// resubmission overwrites rather than duplicates.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Artifact classes, each kept in its own subdirectory.
const (
	ClassXML     = "xml"
	ClassCDR     = "cdr"
	ClassReceipt = "receipts"
)

// Store writes and reads artifact blobs addressed by document identity.
type Store struct {
	dir string
}

// NewStore builds a Store rooted at dir, creating the class directories.
func NewStore(dir string) (*Store, error) {
	for _, class := range []string{ClassXML, ClassCDR, ClassReceipt} {
		if err := os.MkdirAll(filepath.Join(dir, class), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create %s dir: %w", class, err)
		}
	}
	return &Store{dir: dir}, nil
}

// DocumentName renders the deterministic artifact filename:
// {issuerRUC}-{docTypeCode}-{series}-{number}.{ext}
func DocumentName(issuerRUC, typeCode, series, number, ext string) string {
	return fmt.Sprintf("%s-%s-%s-%s.%s", issuerRUC, typeCode, series, number, ext)
}

// AcknowledgmentName renders the acknowledgment filename, prefixed R- as the
// authority convention requires.
func AcknowledgmentName(issuerRUC, typeCode, series, number string) string {
	return "R-" + DocumentName(issuerRUC, typeCode, series, number, "zip")
}

// Write stores data under the given class and filename, atomically replacing
// any previous content. Returns the absolute path of the stored artifact.
func (s *Store) Write(class, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, class, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("storage: commit %s: %w", name, err)
	}
	return path, nil
}

// Read returns the content of a previously stored artifact.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Exists reports whether the artifact at path is present on disk.
func (s *Store) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes the artifact at path. Missing files are not an error; the
// goal state is the file being gone.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove %s: %w", path, err)
	}
	return nil
}

// RemoveOlderThan deletes artifacts of a class whose modification time is
// before the cutoff. Returns the number of files removed.
func (s *Store) RemoveOlderThan(class string, cutoff time.Time) (int, error) {
	dir := filepath.Join(s.dir, class)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("storage: scan %s: %w", class, err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
