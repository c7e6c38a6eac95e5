package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolveAsset resolves a client-supplied asset name against a rendition
// directory. Absolute names and anything that would escape the directory
// after cleaning are rejected, so playlist fetches cannot traverse out
// of their video's rendition tree.
func ResolveAsset(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty asset name")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("asset name %q escapes rendition directory", name)
	}

	cleaned := filepath.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("asset name %q escapes rendition directory", name)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving rendition directory: %w", err)
	}

	full := filepath.Join(absDir, cleaned)
	if full != absDir && !strings.HasPrefix(full, absDir+string(filepath.Separator)) {
		return "", fmt.Errorf("asset name %q escapes rendition directory", name)
	}
	return full, nil
}
