package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Accept reads the opening HTTP request from a raw connection and runs the
// handshake on it. The whole exchange must finish within timeout (no bound
// when timeout is zero). On failure the caller still owns raw and should
// close it; the returned error wraps ErrHandshake.
func Accept(raw net.Conn, h Handshaker, timeout time.Duration) (Conn, error) {
	if timeout > 0 {
		if err := raw.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
		}
	}

	br := bufio.NewReader(raw)
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, fmt.Errorf("%w: reading request: %w", ErrHandshake, err)
	}
	req.RemoteAddr = raw.RemoteAddr().String()

	w := &rawResponseWriter{conn: raw, br: br, header: make(http.Header)}
	conn, err := h.Handshake(w, req)
	if err != nil {
		w.fail(http.StatusBadRequest)
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	if err := raw.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return conn, nil
}

// rawResponseWriter is the http.ResponseWriter handed to a Handshaker when
// there is no http.Server: it writes the response straight to the
// connection and supports hijacking it.
type rawResponseWriter struct {
	conn   net.Conn
	br     *bufio.Reader
	header http.Header

	wroteHeader bool
	hijacked    bool
}

var errHijacked = errors.New("transport: connection hijacked")

func (w *rawResponseWriter) Header() http.Header { return w.header }

func (w *rawResponseWriter) WriteHeader(code int) {
	if w.wroteHeader || w.hijacked {
		return
	}
	w.wroteHeader = true

	bw := bufio.NewWriter(w.conn)
	fmt.Fprintf(bw, "HTTP/1.1 %03d %s\r\n", code, http.StatusText(code))
	w.header.Set("Connection", "close")
	w.header.Write(bw)
	bw.WriteString("\r\n")
	bw.Flush()
}

func (w *rawResponseWriter) Write(p []byte) (int, error) {
	if w.hijacked {
		return 0, errHijacked
	}
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.conn.Write(p)
}

// Hijack hands the connection over to the WebSocket library. The returned
// reader is the one the request was parsed from, so no buffered bytes are
// lost.
func (w *rawResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if w.hijacked {
		return nil, nil, errHijacked
	}
	if w.wroteHeader {
		return nil, nil, errors.New("transport: hijack after response was written")
	}
	w.hijacked = true
	return w.conn, bufio.NewReadWriter(w.br, bufio.NewWriter(w.conn)), nil
}

// fail answers with status unless a response was already sent.
func (w *rawResponseWriter) fail(status int) {
	if w.wroteHeader || w.hijacked {
		return
	}
	http.Error(w, http.StatusText(status), status)
}
