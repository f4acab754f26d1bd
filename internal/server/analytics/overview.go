package analytics

import (
	"context"
	"fmt"
	"time"

	"songshare/internal/server/database"
)

// OverviewStore is the slice of the record store the aggregator reads from.
type OverviewStore interface {
	CountSongs(ctx context.Context) (int64, error)
	TotalDownloads(ctx context.Context) (int64, error)
	TopSongs(ctx context.Context, limit int) ([]*database.Song, error)
	RecentDownloadEvents(ctx context.Context, limit int) ([]*database.Event, error)
}

// TopSong is one entry in the overview's top-N list.
type TopSong struct {
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	Slug          string `json:"slug"`
	DownloadCount int64  `json:"download_count"`
}

// RecentDownload is one entry in the overview's recent-events list.
type RecentDownload struct {
	SongSlug  string    `json:"song_slug"`
	SongTitle string    `json:"song_title"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Referer   string    `json:"referer,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Overview is the aggregated analytics summary.
type Overview struct {
	TotalSongs      int64            `json:"total_songs"`
	TotalDownloads  int64            `json:"total_downloads"`
	TopSongs        []TopSong        `json:"top_songs"`
	RecentDownloads []RecentDownload `json:"recent_downloads"`
}

// Aggregator computes analytics summaries over the record store. Every call
// recomputes from scratch; there is no cache.
type Aggregator struct {
	store OverviewStore
}

// NewAggregator creates an Aggregator backed by the given store.
func NewAggregator(store OverviewStore) *Aggregator {
	return &Aggregator{store: store}
}

// Overview returns totals, the top-limit songs by download count, and the
// limit most recent download events.
func (a *Aggregator) Overview(ctx context.Context, limit int) (*Overview, error) {
	totalSongs, err := a.store.CountSongs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count songs: %w", err)
	}

	totalDownloads, err := a.store.TotalDownloads(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum downloads: %w", err)
	}

	top, err := a.store.TopSongs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top songs: %w", err)
	}

	recent, err := a.store.RecentDownloadEvents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent downloads: %w", err)
	}

	overview := &Overview{
		TotalSongs:      totalSongs,
		TotalDownloads:  totalDownloads,
		TopSongs:        make([]TopSong, 0, len(top)),
		RecentDownloads: make([]RecentDownload, 0, len(recent)),
	}

	for _, song := range top {
		overview.TopSongs = append(overview.TopSongs, TopSong{
			Title:         song.Title,
			Artist:        song.Artist,
			Slug:          song.Slug,
			DownloadCount: song.DownloadCount,
		})
	}

	for _, event := range recent {
		overview.RecentDownloads = append(overview.RecentDownloads, RecentDownload{
			SongSlug:  event.SongSlug,
			SongTitle: event.SongTitle,
			IP:        event.IP,
			UserAgent: event.UserAgent,
			Referer:   event.Referer,
			Timestamp: event.CreatedAt,
		})
	}

	return overview, nil
}
