package lsptest

import (
	"net/url"
	"path"

	"github.com/gossip-lsp/wsbridge/protocol"
)

// FileURI returns the file:// URI of a slash-separated path. Relative paths
// are taken from the root.
func FileURI(p string) string {
	u := url.URL{Scheme: "file", Path: path.Join("/", p)}
	return u.String()
}

// Pos builds a zero-based position.
func Pos(line, char uint32) protocol.Position {
	return protocol.Position{Line: line, Character: char}
}
