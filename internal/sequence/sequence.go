// Package sequence mints human readable, day-scoped record numbers of the
// form YYYYMMDD-NNNN from an atomic per-day counter.
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Kind string

const (
	KindSession Kind = "session"
	KindInvoice Kind = "invoice"
)

const dayLayout = "20060102"

// Counter is an atomic increment primitive. The first call for a key returns 1.
// Keys are never reused across days, expireAt lets backends drop old keys.
type Counter interface {
	IncrementCounter(ctx context.Context, key string, expireAt time.Time) (int64, error)
}

// Advancer is a Counter that can move a key forward by more than one.
type Advancer interface {
	AdvanceCounter(ctx context.Context, key string, by int64, expireAt time.Time) (int64, error)
}

// Floor reports the highest number already stored for kind on day, 0 if none.
type Floor interface {
	LatestSequence(ctx context.Context, kind Kind, day string) (int64, error)
}

type Generator struct {
	counter  Counter
	location *time.Location
	floor    Floor
}

func NewGenerator(counter Counter, location *time.Location) *Generator {
	if location == nil {
		location = time.Local
	}
	return &Generator{counter: counter, location: location}
}

// WithFloor makes a counter that restarts at 1 skip past numbers already
// stored for the day. It only applies when the counter is an Advancer, since
// a counter kept beside the records themselves cannot lose its place.
func (g *Generator) WithFloor(floor Floor) *Generator {
	g.floor = floor
	return g
}

// Next returns the next number for kind on the calendar day of at.
func (g *Generator) Next(ctx context.Context, kind Kind, at time.Time) (string, error) {
	local := at.In(g.location)
	day := local.Format(dayLayout)

	year, month, date := local.Date()
	expireAt := time.Date(year, month, date+2, 0, 0, 0, 0, g.location)

	key := Key(kind, day)
	seq, err := g.counter.IncrementCounter(ctx, key, expireAt)
	if err != nil {
		return "", fmt.Errorf("next %s sequence: %w", kind, err)
	}
	if seq == 1 && g.floor != nil {
		if seq, err = g.catchUp(ctx, kind, day, key, expireAt); err != nil {
			return "", fmt.Errorf("next %s sequence: %w", kind, err)
		}
	}
	return Format(day, seq), nil
}

// catchUp runs when the counter reports the day's first number. If records
// for the day already exist the counter was reset, and it is moved past them.
func (g *Generator) catchUp(ctx context.Context, kind Kind, day string, key string, expireAt time.Time) (int64, error) {
	advancer, ok := g.counter.(Advancer)
	if !ok {
		return 1, nil
	}
	latest, err := g.floor.LatestSequence(ctx, kind, day)
	if err != nil {
		return 0, err
	}
	if latest < 1 {
		return 1, nil
	}
	return advancer.AdvanceCounter(ctx, key, latest, expireAt)
}

func Key(kind Kind, day string) string {
	return fmt.Sprintf("seq:%s:%s", kind, day)
}

func Format(day string, seq int64) string {
	return fmt.Sprintf("%s-%04d", day, seq)
}

// Parse splits a number back into its day and counter parts.
func Parse(number string) (string, int64, error) {
	day, suffix, ok := strings.Cut(number, "-")
	if !ok || len(day) != len(dayLayout) || len(suffix) < 4 {
		return "", 0, fmt.Errorf("malformed sequence number %q", number)
	}
	if _, err := time.Parse(dayLayout, day); err != nil {
		return "", 0, fmt.Errorf("malformed sequence day %q: %w", number, err)
	}
	seq, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || seq < 1 {
		return "", 0, fmt.Errorf("malformed sequence suffix %q", number)
	}
	return day, seq, nil
}

// MemoryCounter is an in-process Counter.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
	expiry map[string]time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		values: map[string]int64{},
		expiry: map[string]time.Time{},
	}
}

func (c *MemoryCounter) IncrementCounter(_ context.Context, key string, expireAt time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Counters are keyed by the caller's clock, not the wall clock.
	cutoff := expireAt.Add(-48 * time.Hour)
	for k, exp := range c.expiry {
		if exp.Before(cutoff) {
			delete(c.values, k)
			delete(c.expiry, k)
		}
	}

	c.values[key]++
	c.expiry[key] = expireAt
	return c.values[key], nil
}

func (c *MemoryCounter) AdvanceCounter(_ context.Context, key string, by int64, expireAt time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] += by
	c.expiry[key] = expireAt
	return c.values[key], nil
}

// Reset forgets every key, as a counter backend restarted without
// persistence would.
func (c *MemoryCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values = map[string]int64{}
	c.expiry = map[string]time.Time{}
}
