package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"expensetracker/internal/cache"
	"expensetracker/internal/core"
	"expensetracker/internal/events"
	"expensetracker/internal/metrics"
	"expensetracker/internal/ports"
)

// maxStaleRetries bounds how often Stats restarts when the snapshot keeps
// changing underneath it.
const maxStaleRetries = 3

// StatsService derives totals and the category breakdown from a user's
// snapshot. Results are cached until the next change for that user.
type StatsService struct {
	store    ports.TransactionStore
	registry *core.Registry
	changes  *events.Broker[core.ChangeEvent]
	cache    *cache.LRUCache[core.Stats]
	metrics  *metrics.Metrics
	group    singleflight.Group

	mu   sync.Mutex
	gens map[string]*generation
}

// generation tracks invalidations of one user while loads are in flight.
// The entry is dropped once the last load finishes.
type generation struct {
	n        uint64
	inflight int
}

func NewStatsService(store ports.TransactionStore, registry *core.Registry, changes *events.Broker[core.ChangeEvent], cacheSize int, cacheTTL time.Duration, m *metrics.Metrics) *StatsService {
	if registry == nil {
		registry = core.DefaultRegistry()
	}
	return &StatsService{
		store:    store,
		registry: registry,
		changes:  changes,
		cache:    cache.NewLRUCache[core.Stats](cacheSize, cacheTTL),
		metrics:  m,
		gens:     make(map[string]*generation),
	}
}

// Cache exposes the result cache for periodic expiry sweeps.
func (s *StatsService) Cache() cache.Cleaner {
	return s.cache
}

// Invalidate marks every in-flight or cached result for userID as stale.
func (s *StatsService) Invalidate(userID string) {
	s.mu.Lock()
	if g, ok := s.gens[userID]; ok {
		g.n++
	}
	s.cache.Delete(userID)
	s.mu.Unlock()
}

// begin registers a load for userID and returns the generation it runs under.
func (s *StatsService) begin(userID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[userID]
	if !ok {
		g = &generation{}
		s.gens[userID] = g
	}
	g.inflight++
	return g.n
}

// finish caches st when no invalidation happened since begin and reports
// whether it did.
func (s *StatsService) finish(userID string, n uint64, st core.Stats, ok bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gens[userID]
	current := ok && g.n == n
	if current {
		s.cache.Set(userID, st)
	}
	g.inflight--
	if g.inflight == 0 {
		delete(s.gens, userID)
	}
	return current
}

func (s *StatsService) tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.gens)
}

// Stats returns the aggregates for the user's current snapshot.
func (s *StatsService) Stats(ctx context.Context, userID string) (core.Stats, error) {
	if st, ok := s.cache.Get(userID); ok {
		s.metrics.CacheHit()
		return st, nil
	}
	s.metrics.CacheMiss()

	var (
		st  core.Stats
		err error
	)
	for attempt := 0; attempt < maxStaleRetries; attempt++ {
		gen := s.begin(userID)
		st, err = s.load(ctx, userID, gen)
		if s.finish(userID, gen, st, err == nil) {
			return st, nil
		}
		if err != nil {
			return core.Stats{}, err
		}
		slog.DebugContext(ctx, "Discarding stale stats", "user_id", userID, "generation", gen)
	}
	// Still churning; the last result reflects a snapshot newer than the call.
	return st, nil
}

// load coalesces concurrent recomputes of the same user and generation.
func (s *StatsService) load(ctx context.Context, userID string, gen uint64) (core.Stats, error) {
	key := userID + "#" + strconv.FormatUint(gen, 10)
	v, err, _ := s.group.Do(key, func() (any, error) {
		txs, err := s.store.List(context.WithoutCancel(ctx), userID)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		s.metrics.Recomputed()
		return core.Summarize(txs, s.registry), nil
	})
	if err != nil {
		return core.Stats{}, err
	}
	return v.(core.Stats), nil
}

// Watch emits the current stats and then fresh stats after every change to
// the user's collection. Delivery is latest-wins: a slow reader only ever
// sees the newest value. The channel closes when ctx is done.
func (s *StatsService) Watch(ctx context.Context, userID string) <-chan core.Stats {
	out := make(chan core.Stats, 1)
	evs, cancel := s.changes.Subscribe(16)

	go func() {
		defer close(out)
		defer cancel()

		s.push(ctx, userID, out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-evs:
				if !ok {
					return
				}
				if ev.UserID != userID {
					continue
				}
				s.push(ctx, userID, out)
			}
		}
	}()
	return out
}

func (s *StatsService) push(ctx context.Context, userID string, out chan core.Stats) {
	st, err := s.Stats(ctx, userID)
	if err != nil {
		if ctx.Err() == nil {
			slog.ErrorContext(ctx, "Failed to recompute stats", "user_id", userID, "error", err)
		}
		return
	}
	select {
	case <-out:
	default:
	}
	out <- st
}
