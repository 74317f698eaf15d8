// Package webui serves the browser flashing console as an embedded asset.
//
// The static web build is embedded into the Go binary using the go:embed
// directive, eliminating any runtime dependency on external files. The
// Handler function returns an http.Handler that serves these assets with
// SPA (Single Page Application) fallback routing: if a requested file
// does not exist, index.html is served so that client-side routing works
// correctly.
//
// Cache-control headers are set to no-cache so a redeployed binary always
// serves the matching UI version.
package webui
