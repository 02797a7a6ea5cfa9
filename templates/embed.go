// Package templates embeds the files written by "complete-validator init".
package templates

import "embed"

//go:embed config.yaml gitignore rules
var FS embed.FS
