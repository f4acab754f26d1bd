package analytics

import (
	"context"
	"errors"
	"testing"

	"songshare/internal/server/database"

	"github.com/google/uuid"
)

type fakeCounterStore struct {
	err   error
	calls []database.Counter
}

func (f *fakeCounterStore) IncrementCounter(_ context.Context, slug string, counter database.Counter, delta int64) error {
	f.calls = append(f.calls, counter)
	return f.err
}

type fakeEventStore struct {
	err    error
	events []*database.Event
}

func (f *fakeEventStore) InsertEvent(_ context.Context, event *database.Event) error {
	f.events = append(f.events, event)
	return f.err
}

func testSong() *database.Song {
	return &database.Song{Slug: "echoes-floyd-abc123", Title: "Echoes"}
}

func TestRecorder_Record(t *testing.T) {
	t.Run("download increments download counter", func(t *testing.T) {
		counters := &fakeCounterStore{}
		events := &fakeEventStore{}
		rec := NewRecorder(counters, events)

		rec.Record(context.Background(), testSong(), EventDownload, RequestInfo{
			IP:        "203.0.113.9",
			UserAgent: "curl/8.0",
		})

		if len(counters.calls) != 1 || counters.calls[0] != database.CounterDownloads {
			t.Errorf("expected one download increment, got %v", counters.calls)
		}
		if len(events.events) != 1 {
			t.Fatalf("expected one event, got %d", len(events.events))
		}
		e := events.events[0]
		if e.EventType != EventDownload || e.SongSlug != "echoes-floyd-abc123" {
			t.Errorf("unexpected event: %+v", e)
		}
		if e.IP != "203.0.113.9" || e.UserAgent != "curl/8.0" {
			t.Errorf("request info not captured: %+v", e)
		}
		if e.ID == uuid.Nil {
			t.Error("event id not assigned")
		}
	})

	t.Run("view increments view counter", func(t *testing.T) {
		counters := &fakeCounterStore{}
		rec := NewRecorder(counters, &fakeEventStore{})

		rec.Record(context.Background(), testSong(), EventView, RequestInfo{})

		if len(counters.calls) != 1 || counters.calls[0] != database.CounterViews {
			t.Errorf("expected one view increment, got %v", counters.calls)
		}
	})

	t.Run("counter failure does not skip the event insert", func(t *testing.T) {
		counters := &fakeCounterStore{err: errors.New("connection refused")}
		events := &fakeEventStore{}
		rec := NewRecorder(counters, events)

		rec.Record(context.Background(), testSong(), EventDownload, RequestInfo{})

		if len(events.events) != 1 {
			t.Errorf("expected event insert despite counter failure, got %d events", len(events.events))
		}
	})

	t.Run("event failure does not skip the counter increment", func(t *testing.T) {
		counters := &fakeCounterStore{}
		events := &fakeEventStore{err: errors.New("connection refused")}
		rec := NewRecorder(counters, events)

		rec.Record(context.Background(), testSong(), EventDownload, RequestInfo{})

		if len(counters.calls) != 1 {
			t.Errorf("expected counter increment despite event failure, got %d", len(counters.calls))
		}
	})

	t.Run("both failing is still silent", func(t *testing.T) {
		counters := &fakeCounterStore{err: errors.New("down")}
		events := &fakeEventStore{err: errors.New("down")}
		rec := NewRecorder(counters, events)

		// Record returns nothing; reaching here without a panic is the contract.
		rec.Record(context.Background(), testSong(), EventDownload, RequestInfo{})
	})
}
