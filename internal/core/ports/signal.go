package ports

import "liveclass/internal/core/domain"

// Notifier delivers fire-and-forget events to connected clients.
// Delivery failures are logged by the implementation, never returned:
// broadcast state is eventually consistent and late joiners recover the
// full picture via ListProducers and the roster query.
type Notifier interface {
	// Notify sends an event to one connection.
	Notify(connID domain.ConnID, event string, payload interface{})
	// Broadcast sends an event to every connection in a session,
	// optionally excluding some connections.
	Broadcast(sessionID domain.SessionID, event string, payload interface{}, exclude ...domain.ConnID)
}
