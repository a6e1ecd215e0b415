package main

import (
	"path/filepath"
	"strings"
)

// blueprintNameFromFile recovers a blueprint's base name from an instance's
// recorded blueprint_file, mirroring the kgsm package's own
// (unexported) blueprintNameOf.
func blueprintNameFromFile(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
