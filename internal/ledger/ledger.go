// Package ledger records the lifecycle of relay sessions for stats,
// readiness and the dashboard. It never owns connections.
package ledger

import (
	"context"
	"time"

	"github.com/matst80/rendezvous-relay/internal/obs"
)

// Store abstracts session bookkeeping so several relay instances can share one view.
type Store interface {
	Waiting(ctx context.Context, id string)
	Paired(ctx context.Context, id string)
	Expired(ctx context.Context, id string)
	Closed(ctx context.Context, id, outcome string, d time.Duration)
	Snapshot(ctx context.Context) Snapshot

	SetClosing(closing bool)
	SetReady(ready bool)
	IsClosing() bool
	IsReady() bool
	Close() error
}

// Snapshot is the JSON shape served on /api/state.
type Snapshot struct {
	Waiting int              `json:"waiting"`
	Paired  int64            `json:"paired"`
	Expired int64            `json:"expired"`
	Closed  map[string]int64 `json:"closed"`
	Now     string           `json:"now"`
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Snapshot) ToTemplateMap() map[string]any {
	return map[string]any{
		"Waiting": s.Waiting,
		"Paired":  s.Paired,
		"Expired": s.Expired,
		"Normal":  s.Closed[obs.OutcomeNormal],
		"Errored": s.Closed[obs.OutcomeError],
		"Idle":    s.Closed[obs.OutcomeTimeout],
	}
}

// Options selects and configures the backend.
type Options struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// WaitTTL bounds how long a waiting marker lives in Redis.
	WaitTTL time.Duration
}

// New creates either an in-memory or Redis-backed store based on opts.
func New(ctx context.Context, opts Options) (Store, error) {
	if opts.RedisAddr == "" {
		obs.Info("ledger.backend", obs.Fields{"type": "in-memory"})
		return NewMemory(), nil
	}
	obs.Info("ledger.backend", obs.Fields{"type": "redis", "addr": opts.RedisAddr})
	return newRedisStore(ctx, opts)
}
