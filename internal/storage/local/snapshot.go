// Package local reads corpus snapshots from the local filesystem.
package local

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/insfound/internal/inspiration"
)

// DecodeSnapshot parses a JSON array of inspiration records exported by the
// ingestion pipeline. Records keep the order in which they appear.
func DecodeSnapshot(r io.Reader) ([]inspiration.InspirationRecord, error) {
	var records []inspiration.InspirationRecord
	dec := json.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := validateSnapshot(records); err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Styles = normalizeStyles(records[i].Styles)
	}
	return records, nil
}

// LoadSnapshot reads a snapshot file from disk.
func LoadSnapshot(path string) ([]inspiration.InspirationRecord, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	return DecodeSnapshot(f)
}

func validateSnapshot(records []inspiration.InspirationRecord) error {
	seen := make(map[string]struct{}, len(records))
	dim := 0
	for i, rec := range records {
		if strings.TrimSpace(rec.ID) == "" {
			return fmt.Errorf("record %d: id is required", i)
		}
		if _, dup := seen[rec.ID]; dup {
			return fmt.Errorf("record %d: duplicate id %q", i, rec.ID)
		}
		seen[rec.ID] = struct{}{}
		if len(rec.Embedding) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(rec.Embedding)
		} else if len(rec.Embedding) != dim {
			return fmt.Errorf("record %q: embedding dimension %d, expected %d", rec.ID, len(rec.Embedding), dim)
		}
	}
	return nil
}

func normalizeStyles(styles []string) []string {
	out := styles[:0]
	for _, s := range styles {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
