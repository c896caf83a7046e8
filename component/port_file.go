package component

import "fmt"

// FilePort declares file system access, used by the frame file input
// to read archival strain and by bank loading to read SPIIR manifests.
type FilePort struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern,omitempty"`
}

// ResourceID identifies the port by its path.
func (f FilePort) ResourceID() string {
	return fmt.Sprintf("file:%s", f.Path)
}

// IsExclusive returns false; readers do not conflict.
func (f FilePort) IsExclusive() bool {
	return false
}

// Type returns the port type identifier.
func (f FilePort) Type() string {
	return "file"
}
