// Package eventbus decouples workspace and session lifecycle transitions
// from anyone observing them. perryd only needs a single lifecycle
// stream, so Subscribe has no subject argument: every handler sees every
// event and filters on Type/Subject itself.
package eventbus

import "time"

// Event types for workspace and session lifecycle transitions.
const (
	WorkspaceCreating = "workspace.creating"
	WorkspaceRunning  = "workspace.running"
	WorkspaceStopped  = "workspace.stopped"
	WorkspaceError    = "workspace.error"
	WorkspaceDeleted  = "workspace.deleted"

	SessionStarted  = "session.started"
	SessionJoined   = "session.joined"
	SessionDisposed = "session.disposed"
	SessionErrored  = "session.errored"
)

// Event is one lifecycle transition. Subject is the workspace name or
// session ownId the event concerns.
type Event struct {
	Type    string
	Subject string
	At      time.Time
}

// Handler receives published events. Handlers must not block.
type Handler func(Event)

// Subscription can be cancelled.
type Subscription interface {
	Unsubscribe()
}

// Bus is perryd's internal lifecycle event fan-out.
type Bus interface {
	Publish(Event)
	Subscribe(Handler) Subscription
	Close() error
}
