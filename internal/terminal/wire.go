// Package terminal implements PtyAttachPipeline (C5): the authenticated
// websocket <-> container-exec bridge to the pty-mux, per spec.md §4.5.
package terminal

// ClientMessage is the C->S half of the wire protocol (spec §4.5): input
// writes to the pty-mux stdin, resize adjusts the exec pty's window size.
type ClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols uint   `json:"cols,omitempty"`
	Rows uint   `json:"rows,omitempty"`
}

// ServerMessage is the S->C half. output carries raw UTF-8 bytes from the
// container; error is terminal and always followed by a websocket close;
// request-resize asks the client to send its current terminal size.
type ServerMessage struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	ClientMessageInput  = "input"
	ClientMessageResize = "resize"

	ServerMessageOutput        = "output"
	ServerMessageError         = "error"
	ServerMessageRequestResize = "request-resize"
)

// Close codes per spec §4.5/§7: auth failures and access-denied use 1008,
// fatal setup/runtime errors use 1011, a normal end-of-session uses 1000.
const (
	CloseAuthFailure  = 1008
	CloseSetupFailure = 1011
	CloseNormal       = 1000
)
