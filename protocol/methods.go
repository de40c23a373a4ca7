package protocol

// LSP method constants.
const (
	// Lifecycle
	MethodInitialize    = "initialize"
	MethodInitialized   = "initialized"
	MethodShutdown      = "shutdown"
	MethodExit          = "exit"
	MethodSetTrace      = "$/setTrace"
	MethodLogTrace      = "$/logTrace"
	MethodCancelRequest = "$/cancelRequest"

	// Text document sync
	MethodDidOpen   = "textDocument/didOpen"
	MethodDidChange = "textDocument/didChange"
	MethodDidClose  = "textDocument/didClose"
	MethodDidSave   = "textDocument/didSave"

	// Language features
	MethodHover      = "textDocument/hover"
	MethodCompletion = "textDocument/completion"
	MethodDefinition = "textDocument/definition"

	// Server -> client
	MethodLogMessage         = "window/logMessage"
	MethodShowMessage        = "window/showMessage"
	MethodShowMessageRequest = "window/showMessageRequest"
)
