// Package templates embeds the default state directory configuration.
package templates

import "embed"

//go:embed config.yaml
var FS embed.FS
