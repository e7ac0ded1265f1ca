// Package transport defines the connection-facing seam between the
// transcription core and whatever carries messages to the client.
//
// The core never serializes anything itself: it hands typed message values to
// a Handle and the transport implementation (the gateway's websocket writer,
// a test double) decides how they go on the wire. Handles must tolerate
// concurrent Send calls and must make Send and Close after Close a cheap
// no-op error rather than a panic, because pipeline workers may race a
// client disconnect.
package transport

// Handle is a live client connection as seen by the core.
//
// Send delivers one message to the client. Implementations serialize the
// value; an error means the message was dropped, never that the caller
// should retry. IsOpen reports whether the connection is still usable;
// workers check it before spending effort on a result. Close releases the
// connection and is idempotent.
type Handle interface {
	Send(msg any) error
	IsOpen() bool
	Close() error
}
