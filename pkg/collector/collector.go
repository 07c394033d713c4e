// Package collector defines the pluggable probe contract and the built-in
// probes: processes, network connections, persistence points, scanned
// directories and tailed security logs. A collector produces one category
// of snapshot; a push collector additionally emits events outside the
// poll cycle.
package collector

import (
	"context"

	"github.com/hostsentry/agent/internal/models"
)

// PushFunc delivers a collector-generated event straight to the event
// queue, bypassing the poll/diff/classify cycle.
type PushFunc func(models.Event)

// Collector is a pluggable unit that knows how to produce one category
// of snapshot.
//
// Start is idempotent; Stop is guaranteed to be called on shutdown even
// if Start partially failed and must not block indefinitely. Poll must
// never panic: any internal failure is reported as an error, isolated to
// this collector. A push-only collector may return a nil snapshot with a
// nil error; the scheduler skips diffing for it.
type Collector interface {
	Name() string
	Category() models.Category
	Start(ctx context.Context) error
	Stop() error
	Poll(ctx context.Context) (*models.Snapshot, error)
}

// Pusher is implemented by collectors that emit events outside the poll
// cycle (e.g. a log watcher). The lifecycle controller wires the push
// function before Start.
type Pusher interface {
	RegisterPush(fn PushFunc)
}
