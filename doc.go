// Package wsbridge serves JSON-RPC language servers to browser editors over
// WebSocket.
//
// A Supervisor accepts raw connections, performs the WebSocket upgrade, wraps
// each socket in a stream.Adapter so it reads and writes like a byte stream,
// and hands that stream to a Backend. Two backends are provided: an
// in-process LSP Server with handler registration and middleware, and a
// ProcessBackend that forwards the stream to a spawned language server's
// stdio.
//
// A minimal bridge needs only a few lines:
//
//	s := wsbridge.NewSupervisor(wsbridge.ServerBackend(func() *wsbridge.Server {
//		return wsbridge.NewServer("my-lang", "0.1.0")
//	}))
//	ln, _ := transport.Listen("127.0.0.1:3000")
//	s.Serve(ctx, ln)
//
// See the examples/ directory for complete programs.
package wsbridge
