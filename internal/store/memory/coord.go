package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goosemarket/marketd/internal/domain"
)

// Ranking is an in-process domain.RankingIndex ordered by
// (balance desc, user_id asc). It trades the O(log N) update of the
// Redis sorted set for simplicity; fine for tests and single-node dev.
type Ranking struct {
	mu       sync.RWMutex
	balances map[string]int64
}

// NewRanking creates an empty ranking index.
func NewRanking() *Ranking {
	return &Ranking{balances: make(map[string]int64)}
}

func (r *Ranking) Update(ctx context.Context, userID string, balanceCents int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[userID] = balanceCents
	return nil
}

func (r *Ranking) sorted() []domain.RankingEntry {
	out := make([]domain.RankingEntry, 0, len(r.balances))
	for id, bal := range r.balances {
		out = append(out, domain.RankingEntry{UserID: id, BalanceCents: bal})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BalanceCents != out[j].BalanceCents {
			return out[i].BalanceCents > out[j].BalanceCents
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (r *Ranking) Top(ctx context.Context, k int) ([]domain.RankingEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.sorted()
	if k > 0 && k < len(entries) {
		entries = entries[:k]
	}
	return entries, nil
}

func (r *Ranking) Rank(ctx context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.balances[userID]; !ok {
		return 0, fmt.Errorf("memory: rank of %s: %w", userID, domain.ErrNotFound)
	}
	for i, e := range r.sorted() {
		if e.UserID == userID {
			return int64(i + 1), nil
		}
	}
	return 0, fmt.Errorf("memory: rank of %s: %w", userID, domain.ErrNotFound)
}

func (r *Ranking) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.balances)), nil
}

func (r *Ranking) Rebuild(ctx context.Context, entries []domain.RankingEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances = make(map[string]int64, len(entries))
	for _, e := range entries {
		r.balances[e.UserID] = e.BalanceCents
	}
	return nil
}

var _ domain.RankingIndex = (*Ranking)(nil)

// Bus is an in-process domain.SignalBus. Published payloads fan out to
// current subscribers; streams are kept as slices.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	nextID  int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
			// Slow subscribers drop messages rather than block a trade.
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (b *Bus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", b.nextID),
		Payload: payload,
	})
	return nil
}

func (b *Bus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		if lastID != "" && lastID != "0" && msg.ID <= lastID {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*Bus)(nil)

// Limiter is an in-process sliding-window domain.RateLimiter.
type Limiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewLimiter creates an empty rate limiter.
func NewLimiter() *Limiter {
	return &Limiter{hits: make(map[string][]time.Time)}
}

func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.hits[key][:0]
	for _, ts := range l.hits[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit {
		l.hits[key] = kept
		return false, nil
	}
	l.hits[key] = append(kept, now)
	return true, nil
}

var _ domain.RateLimiter = (*Limiter)(nil)

// Locker is an in-process domain.LockManager.
type Locker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLocker creates an empty lock manager.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]time.Time)}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if exp, ok := l.held[key]; ok && exp.After(now) {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = now.Add(ttl)

	released := false
	unlock := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !released {
			released = true
			delete(l.held, key)
		}
	}
	return unlock, nil
}

var _ domain.LockManager = (*Locker)(nil)
