// Package artifacts embeds the seed files for a fresh config directory.
package artifacts

import _ "embed"

// GlobalSettings is the default settings.yaml, written verbatim when no
// settings file exists yet.
//
//go:embed global/settings.yaml
var GlobalSettings []byte
