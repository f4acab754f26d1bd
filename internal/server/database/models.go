package database

import (
	"time"

	"github.com/google/uuid"
)

// Song represents one shared upload in the database.
type Song struct {
	ID            uuid.UUID
	Slug          string
	Title         string
	Artist        string
	Description   string
	Filename      string // original filename as uploaded
	Extension     string // original file extension, used to locate the blob
	ContentType   string
	SizeBytes     int64
	DownloadCount int64
	ViewCount     int64
	PasswordHash  *string // nil when the share link has no password
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Event is one append-only analytics log entry.
type Event struct {
	ID        uuid.UUID
	SongSlug  string
	SongTitle string
	EventType string // "view" or "download"
	IP        string
	UserAgent string
	Referer   string
	CreatedAt time.Time
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalSongs     int64
	TotalDownloads int64
	TotalViews     int64
	StorageUsed    int64
}
