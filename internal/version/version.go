// Package version reports the ensemble release embedded at build time.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the current version, with whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}

// String returns the product name and version, e.g. "ensemble v0.1.0".
func String() string {
	return "ensemble v" + Get()
}
