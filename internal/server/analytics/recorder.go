package analytics

import (
	"context"
	"log/slog"
	"time"

	"songshare/internal/server/database"

	"github.com/google/uuid"
)

// Event types recorded against a song.
const (
	EventView     = "view"
	EventDownload = "download"
)

// RequestInfo carries the request attributes captured in an event.
type RequestInfo struct {
	IP        string
	UserAgent string
	Referer   string
}

// CounterStore is the slice of the record store the recorder needs for
// counter updates.
type CounterStore interface {
	IncrementCounter(ctx context.Context, slug string, counter database.Counter, delta int64) error
}

// EventStore appends analytics events.
type EventStore interface {
	InsertEvent(ctx context.Context, event *database.Event) error
}

// Recorder performs best-effort analytics writes. Failures are logged and
// swallowed so a broken analytics path can never fail a lookup or download.
type Recorder struct {
	counters CounterStore
	events   EventStore
}

// NewRecorder creates a Recorder backed by the given stores.
func NewRecorder(counters CounterStore, events EventStore) *Recorder {
	return &Recorder{counters: counters, events: events}
}

// Record increments the counter matching eventType and appends an event row.
// Both writes are attempted independently; neither error propagates.
func (r *Recorder) Record(ctx context.Context, song *database.Song, eventType string, info RequestInfo) {
	counter := database.CounterViews
	if eventType == EventDownload {
		counter = database.CounterDownloads
	}

	if err := r.counters.IncrementCounter(ctx, song.Slug, counter, 1); err != nil {
		slog.Error("failed to increment counter",
			"slug", song.Slug,
			"counter", counter,
			"error", err,
		)
	}

	event := &database.Event{
		ID:        uuid.New(),
		SongSlug:  song.Slug,
		SongTitle: song.Title,
		EventType: eventType,
		IP:        info.IP,
		UserAgent: info.UserAgent,
		Referer:   info.Referer,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.events.InsertEvent(ctx, event); err != nil {
		slog.Error("failed to insert analytics event",
			"slug", song.Slug,
			"event_type", eventType,
			"error", err,
		)
	}
}
