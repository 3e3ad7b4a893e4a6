package main

import (
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"townclaims.dev/internal/sim/territory"
)

// lateNotifier forwards to a Notifier installed after the engine is built.
// Notifications sent before that are dropped.
type lateNotifier struct {
	n atomic.Pointer[territory.Notifier]
}

func (l *lateNotifier) set(n territory.Notifier) { l.n.Store(&n) }

func (l *lateNotifier) Notify(player uuid.UUID, msg string) {
	if n := l.n.Load(); n != nil {
		(*n).Notify(player, msg)
	}
}

func (l *lateNotifier) Broadcast(msg string) {
	if n := l.n.Load(); n != nil {
		(*n).Broadcast(msg)
	}
}

func rateLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}
