package server

// Conn is one connected client as seen by the lobby, match, and
// learning coordinators. Send must not block: implementations enqueue
// and drop on a full buffer, so a slow consumer can never stall a
// broadcast.
type Conn interface {
	Send(msg any)
	Open() bool
}
