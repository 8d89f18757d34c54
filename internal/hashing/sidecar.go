package hashing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SidecarSuffix is appended to a data file's name to form its hash
// metadata path.
const SidecarSuffix = ".meta.json"

// Sidecar is the persisted hash metadata for a columnar file.
type Sidecar struct {
	Result
	// CreatedAt is when the metadata was written.
	CreatedAt time.Time `json:"created_at"`
}

// SidecarPath returns the metadata path for a data file.
func SidecarPath(dataPath string) string {
	return dataPath + SidecarSuffix
}

// WriteSidecar persists hash metadata next to the data file.
func WriteSidecar(dataPath string, res *Result) error {
	sidecar := Sidecar{
		Result:    *res,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal hash metadata: %w", err)
	}

	path := SidecarPath(dataPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write hash metadata: %w", err)
	}
	return nil
}

// ReadSidecar loads hash metadata for a data file. A missing or malformed
// sidecar returns ok=false rather than an error.
func ReadSidecar(dataPath string) (*Sidecar, bool) {
	data, err := os.ReadFile(SidecarPath(dataPath))
	if err != nil {
		return nil, false
	}

	var sidecar Sidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, false
	}
	return &sidecar, true
}
