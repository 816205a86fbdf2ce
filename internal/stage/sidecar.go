package stage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Sidecar is the optional JSON document packed alongside the data files in
// an input archive. Its header section routes the archive to a strategy
// family and carries identifiers assigned upstream of the scanner output;
// the overwrite map forces metadata fields after parsing.
type Sidecar struct {
	Header SidecarHeader `json:"header"`
	// Overwrite maps metadata field names to forced values, applied after
	// the format parser has run.
	Overwrite map[string]any `json:"overwrite,omitempty"`
}

// SidecarHeader identifies the archive and its strategy family.
type SidecarHeader struct {
	Filetype    string `json:"filetype"`
	Session     string `json:"session,omitempty"`
	Acquisition string `json:"acquisition,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Group       string `json:"group,omitempty"`
	Project     string `json:"project,omitempty"`
}

// FindSidecar scans extracted file paths for a JSON document with a header
// section and returns the decoded sidecar, or nil when none is present.
// Files that fail to decode are skipped, matching archives that happen to
// carry unrelated .json payloads.
func FindSidecar(paths []string) *Sidecar {
	for _, p := range paths {
		if !strings.HasSuffix(strings.ToLower(p), ".json") {
			continue
		}
		sc, err := loadSidecar(p)
		if err != nil {
			continue
		}
		if sc.Header.Filetype != "" {
			return sc
		}
	}
	return nil
}

func loadSidecar(path string) (*Sidecar, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("decoding sidecar %s: %w", path, err)
	}
	return &sc, nil
}
