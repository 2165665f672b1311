// Package web embeds the page and shell templates served by the HTTP server.
package web

import "embed"

// Templates holds templates/*.tmpl (html/template) and
// templates/bash_profile.txt (text/template).
//
//go:embed templates
var Templates embed.FS
