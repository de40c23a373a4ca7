package wsbridge

import "github.com/gossip-lsp/wsbridge/protocol"

// advertised maps a request method to the capability a registered handler
// for it turns on.
var advertised = []struct {
	method string
	enable func(*protocol.ServerCapabilities)
}{
	{protocol.MethodHover, func(c *protocol.ServerCapabilities) { c.HoverProvider = true }},
	{protocol.MethodCompletion, func(c *protocol.ServerCapabilities) { c.CompletionProvider = &protocol.CompletionOptions{} }},
	{protocol.MethodDefinition, func(c *protocol.ServerCapabilities) { c.DefinitionProvider = true }},
}

// buildCapabilities advertises only what this connection's Server has
// handlers for.
func (s *Server) buildCapabilities() protocol.ServerCapabilities {
	textSync := &protocol.TextDocumentSyncOptions{OpenClose: true, Change: protocol.SyncIncremental}
	if _, ok := s.notificationHandler(protocol.MethodDidSave); ok {
		textSync.Save = &protocol.SaveOptions{IncludeText: true}
	}

	caps := protocol.ServerCapabilities{
		TextDocumentSync: textSync,
		Workspace: &protocol.ServerWorkspaceCapabilities{
			WorkspaceFolders: &protocol.WorkspaceFoldersServerCapabilities{Supported: true},
		},
	}
	for _, a := range advertised {
		if _, ok := s.requestHandler(a.method); ok {
			a.enable(&caps)
		}
	}
	return caps
}
