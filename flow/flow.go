// Package flow records the request/response transactions a proxy
// instance observes: one Flow per accepted client request, created
// Pending and finalized exactly once on every exit path, successful or
// not.
package flow

import (
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/snitcher/mitmproxy/httpmsg"
)

// Status is a Flow's terminal classification. A Flow starts Pending and
// moves to exactly one of Completed or Failed.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Flow is a single request/response transaction observed by the proxy,
// with enough metadata to reconstruct what happened without re-reading
// either socket. It's mutated only by the handler that owns it until it
// reaches a terminal Status, after which it's read-only.
type Flow struct {
	ID             uuid.UUID
	ClientEndpoint string
	Timestamp      time.Time

	Request  *httpmsg.Request
	Response *httpmsg.Response

	Duration time.Duration
	Status   Status
}

// New creates a Pending Flow bound to clientEndpoint, stamped with the
// current time.
func New(clientEndpoint string) *Flow {
	return &Flow{
		ID:             uuid.NewV4(),
		ClientEndpoint: clientEndpoint,
		Timestamp:      time.Now().UTC(),
		Status:         StatusPending,
	}
}

// Finish stamps Duration and Status from the flow's own Timestamp and
// the observed response, per the one finalization rule every handler
// exit path follows: Completed if a response with a status code was
// produced, Failed otherwise.
func (f *Flow) Finish() {
	f.Duration = time.Since(f.Timestamp)
	if f.Response != nil && f.Response.StatusCode > 0 {
		f.Status = StatusCompleted
	} else {
		f.Status = StatusFailed
	}
}

// Clone returns a deep copy safe to hand to a store or an event
// subscriber without racing the handler that still owns the original.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	clone := *f
	clone.Request = f.Request.Clone()
	clone.Response = f.Response.Clone()
	return &clone
}
