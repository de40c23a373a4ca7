package transport

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"
)

// Listen opens the listening endpoint named by addr. "unix:/path" listens on
// a Unix domain socket, removing a stale socket file first; anything else is
// a TCP "host:port".
func Listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		return ListenSocket(path)
	}
	return net.Listen("tcp", addr)
}

// ListenSocket listens on a Unix domain socket at path. Closing the listener
// removes the socket file.
func ListenSocket(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(true)
	}
	return ln, nil
}
