package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"oppscan/internal/domain"
)

// Store is the durable record store behind the channel. Upserts are keyed
// by (session_id, source_url) and idempotent.
type Store interface {
	UpsertProgress(ctx context.Context, rec *domain.ProgressRecord) error
	ProgressBySession(ctx context.Context, sessionID string) ([]domain.ProgressRecord, error)
}

// Event is one element of a subscription stream: either a record delta or
// the terminal completion marker for the session.
type Event struct {
	Record domain.ProgressRecord `json:"record"`
	Done   bool                  `json:"done"`
}

// Channel is the progress surface of the pipeline: every state transition
// is written through it, and observers subscribe to a snapshot of the
// current records followed by incremental updates. Batch state survives
// process restarts because the store, not the channel, is the source of
// truth.
type Channel struct {
	store  Store
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]map[int]chan Event
	nextID int
}

func NewChannel(store Store, logger *zap.Logger) *Channel {
	return &Channel{
		store:  store,
		logger: logger,
		subs:   make(map[string]map[int]chan Event),
	}
}

// Update upserts one record and notifies subscribers. The completion
// predicate is re-evaluated against the full record set after every
// terminal transition, never computed from the updating source alone.
func (c *Channel) Update(ctx context.Context, rec domain.ProgressRecord) error {
	rec.UpdatedAt = time.Now()
	if err := c.store.UpsertProgress(ctx, &rec); err != nil {
		return err
	}
	c.broadcast(rec.SessionID, Event{Record: rec})

	if rec.Status.Terminal() {
		records, err := c.store.ProgressBySession(ctx, rec.SessionID)
		if err != nil {
			c.logger.Error("failed to re-evaluate session completion",
				zap.String("session_id", rec.SessionID), zap.Error(err))
			return nil
		}
		if domain.SessionDone(records) {
			c.broadcast(rec.SessionID, Event{Done: true})
		}
	}
	return nil
}

// Snapshot returns the current record set and whether the session is done.
func (c *Channel) Snapshot(ctx context.Context, sessionID string) ([]domain.ProgressRecord, bool, error) {
	records, err := c.store.ProgressBySession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return records, domain.SessionDone(records), nil
}

// Subscribe registers an observer for a session. The stream starts with
// the full current snapshot, so late subscribers see already-completed
// sources, then carries deltas. The snapshot read, the registration, and
// the snapshot enqueue all happen under the broadcast lock, so no delta
// can reach the subscriber ahead of its snapshot. A record written just
// before the read can still appear twice (snapshot plus live delta);
// events carry whole records keyed by source_url, and consumers keep the
// latest per key by UpdatedAt. The returned cancel func must be called to
// release the subscription.
func (c *Channel) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	c.mu.Lock()
	records, err := c.store.ProgressBySession(ctx, sessionID)
	if err != nil {
		c.mu.Unlock()
		return nil, nil, err
	}

	// Room for the whole snapshot, its Done marker, and a delta backlog.
	ch := make(chan Event, len(records)+65)

	if c.subs[sessionID] == nil {
		c.subs[sessionID] = make(map[int]chan Event)
	}
	id := c.nextID
	c.nextID++
	c.subs[sessionID][id] = ch

	for _, rec := range records {
		ch <- Event{Record: rec}
	}
	if domain.SessionDone(records) {
		ch <- Event{Done: true}
	}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sess, ok := c.subs[sessionID]; ok {
			if sub, ok := sess[id]; ok {
				delete(sess, id)
				close(sub)
			}
			if len(sess) == 0 {
				delete(c.subs, sessionID)
			}
		}
	}
	return ch, cancel, nil
}

func (c *Channel) broadcast(sessionID string, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs[sessionID] {
		select {
		case ch <- ev:
		default:
			// A subscriber that stopped draining loses deltas; it can
			// always recover the full state from Snapshot.
			c.logger.Warn("dropping progress event for slow subscriber",
				zap.String("session_id", sessionID), zap.Int("subscriber", id))
		}
	}
}
