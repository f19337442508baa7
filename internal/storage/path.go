package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildObjectKey joins a dataset key and a relative file path, checking every
// component so a key can never climb out of its dataset.
func BuildObjectKey(datasetKey, relative string) (string, error) {
	parts := splitKey(datasetKey)
	if len(parts) == 0 {
		return "", fmt.Errorf("dataset key is required")
	}
	parts = append(parts, splitKey(relative)...)
	for _, part := range parts {
		if err := validatePathComponent(part, "key component"); err != nil {
			return "", err
		}
	}
	return path.Join(parts...), nil
}

// RelativePath strips datasetKey from key. It fails when key is not below
// datasetKey or contains an unsafe component.
func RelativePath(datasetKey, key string) (string, error) {
	base := path.Join(splitKey(datasetKey)...)
	cleaned := path.Join(splitKey(key)...)
	if base == "" || !strings.HasPrefix(cleaned, base+"/") {
		return "", fmt.Errorf("object %q is not under %q", key, datasetKey)
	}
	relative := strings.TrimPrefix(cleaned, base+"/")
	for _, part := range splitKey(relative) {
		if err := validatePathComponent(part, "key component"); err != nil {
			return "", err
		}
	}
	return relative, nil
}

func splitKey(key string) []string {
	var parts []string
	for _, part := range strings.Split(strings.TrimSpace(key), "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
