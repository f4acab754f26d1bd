package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	ErrSongNotFound = errors.New("song not found")
)

// Counter identifies one of the mutable per-song counters.
type Counter string

const (
	CounterDownloads Counter = "downloads"
	CounterViews     Counter = "views"
)

// counterColumns maps a Counter to its table column. Increments go through
// this closed map so the column name never comes from request input.
var counterColumns = map[Counter]string{
	CounterDownloads: "download_count",
	CounterViews:     "view_count",
}

const songColumns = `id, slug, title, artist, description, filename, extension,
	   content_type, size_bytes, download_count, view_count, password_hash,
	   created_at, updated_at`

// Repository provides CRUD operations for songs and analytics events.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateSong inserts a new song record.
func (r *Repository) CreateSong(ctx context.Context, song *Song) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO songs (
			id, slug, title, artist, description, filename, extension,
			content_type, size_bytes, download_count, view_count,
			password_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		song.ID,
		song.Slug,
		song.Title,
		song.Artist,
		song.Description,
		song.Filename,
		song.Extension,
		song.ContentType,
		song.SizeBytes,
		song.DownloadCount,
		song.ViewCount,
		song.PasswordHash,
		song.CreatedAt,
		song.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create song: %w", err)
	}
	return nil
}

// GetSongBySlug retrieves a song by its public slug.
func (r *Repository) GetSongBySlug(ctx context.Context, slug string) (*Song, error) {
	row := r.db.Pool.QueryRow(ctx,
		"SELECT "+songColumns+" FROM songs WHERE slug = $1", slug)

	song, err := scanSong(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSongNotFound
		}
		return nil, fmt.Errorf("failed to get song: %w", err)
	}
	return song, nil
}

// SlugExists reports whether a song with the given slug already exists.
func (r *Repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM songs WHERE slug = $1)", slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug existence: %w", err)
	}
	return exists, nil
}

// ListRecentSongs returns up to limit songs ordered by creation time, newest first.
func (r *Repository) ListRecentSongs(ctx context.Context, limit int) ([]*Song, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+songColumns+" FROM songs ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent songs: %w", err)
	}
	defer rows.Close()

	return collectSongs(rows)
}

// IncrementCounter atomically adds delta to one of a song's counters and
// refreshes updated_at. The increment happens in a single UPDATE so concurrent
// calls never lose updates.
func (r *Repository) IncrementCounter(ctx context.Context, slug string, counter Counter, delta int64) error {
	column, ok := counterColumns[counter]
	if !ok {
		return fmt.Errorf("unknown counter %q", counter)
	}

	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE songs SET "+column+" = "+column+" + $2, updated_at = NOW() WHERE slug = $1",
		slug, delta)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSongNotFound
	}
	return nil
}

// InsertEvent appends one analytics event to the log.
func (r *Repository) InsertEvent(ctx context.Context, event *Event) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO events (id, song_slug, song_title, event_type, ip, user_agent, referer, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		event.ID,
		event.SongSlug,
		event.SongTitle,
		event.EventType,
		event.IP,
		event.UserAgent,
		event.Referer,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// CountSongs returns the number of song records.
func (r *Repository) CountSongs(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM songs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count songs: %w", err)
	}
	return count, nil
}

// TotalDownloads sums download_count across all songs. Zero songs yields 0.
func (r *Repository) TotalDownloads(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.Pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(download_count), 0) FROM songs",
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum downloads: %w", err)
	}
	return total, nil
}

// TopSongs returns up to limit songs ordered by download count descending.
// Ties break on creation time ascending so the order is stable.
func (r *Repository) TopSongs(ctx context.Context, limit int) ([]*Song, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+songColumns+" FROM songs ORDER BY download_count DESC, created_at ASC LIMIT $1",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top songs: %w", err)
	}
	defer rows.Close()

	return collectSongs(rows)
}

// RecentDownloadEvents returns up to limit download events, newest first.
func (r *Repository) RecentDownloadEvents(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, song_slug, song_title, event_type, ip, user_agent, referer, created_at
		FROM events WHERE event_type = 'download'
		ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		if err := rows.Scan(
			&event.ID,
			&event.SongSlug,
			&event.SongTitle,
			&event.EventType,
			&event.IP,
			&event.UserAgent,
			&event.Referer,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// scanSong reads one song row in songColumns order.
func scanSong(row pgx.Row) (*Song, error) {
	song := &Song{}
	err := row.Scan(
		&song.ID,
		&song.Slug,
		&song.Title,
		&song.Artist,
		&song.Description,
		&song.Filename,
		&song.Extension,
		&song.ContentType,
		&song.SizeBytes,
		&song.DownloadCount,
		&song.ViewCount,
		&song.PasswordHash,
		&song.CreatedAt,
		&song.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return song, nil
}

func collectSongs(rows pgx.Rows) ([]*Song, error) {
	var songs []*Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		songs = append(songs, song)
	}
	return songs, rows.Err()
}

// GetStats returns aggregate server statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(download_count), 0),
			COALESCE(SUM(view_count), 0),
			COALESCE(SUM(size_bytes), 0)
		FROM songs
	`).Scan(
		&stats.TotalSongs,
		&stats.TotalDownloads,
		&stats.TotalViews,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
