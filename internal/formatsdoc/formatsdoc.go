// Package formatsdoc embeds the on-disk format reference for profile.db,
// cct.db, and trace.db so a running binary can print it without needing
// network access or a separate docs build step.
package formatsdoc

import _ "embed"

//go:embed FORMATS.md
var formats string

// Text returns the on-disk format documentation.
func Text() string {
	return formats
}
