// Package plugins holds the lifecycle extensions shipped with the mapper.
// Each plugin is built around its host manager and attaches its handlers
// when registered:
//
//	mgr.RegisterPlugin(plugins.NewTimestamps(mgr))
//	mgr.RegisterPlugin(plugins.NewCascadeDeletes(mgr))
package plugins

import (
	"time"

	"github.com/ammar0144/mapper4go/pkg/events"
)

// Host is the manager a plugin registers on
type Host interface {
	Events() *events.Bus
}

// Clock returns the current time
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }
