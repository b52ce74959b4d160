package sync

import (
	"sync"

	"xero-sync-service/internal/shop"
)

type guardKey struct {
	entityType shop.EntityType
	localID    int64
}

// Guard is the set of entities currently being synced. A second attempt for
// an entity already in the set is refused, not queued.
type Guard struct {
	mu       sync.Mutex
	inFlight map[guardKey]struct{}
}

func NewGuard() *Guard {
	return &Guard{inFlight: make(map[guardKey]struct{})}
}

// TryAcquire adds the entity and reports whether it was absent.
func (g *Guard) TryAcquire(entityType shop.EntityType, localID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := guardKey{entityType, localID}
	if _, busy := g.inFlight[key]; busy {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

func (g *Guard) Release(entityType shop.EntityType, localID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, guardKey{entityType, localID})
}

func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}
