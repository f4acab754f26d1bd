package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"songshare/internal/server/analytics"
	"songshare/internal/server/config"
	"songshare/internal/server/database"
	"songshare/internal/server/slug"
	"songshare/internal/server/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound          = errors.New("song not found")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrPasswordRequired  = errors.New("password required")
	ErrInvalidPassword   = errors.New("invalid password")
	ErrFileTooLarge      = errors.New("file exceeds maximum allowed size")
)

// allowedMIMETypes is the audio content-type allow-list.
var allowedMIMETypes = map[string]bool{
	"audio/mpeg":  true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/flac":  true,
	"audio/aac":   true,
	"audio/ogg":   true,
	"audio/mp4":   true,
	"audio/x-m4a": true,
}

// allowedExtensions is the fallback when the content type is unrecognized.
var allowedExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".aac": true,
	".ogg": true, ".m4a": true, ".mp4": true,
}

// UploadMeta carries the descriptive fields supplied at upload time.
type UploadMeta struct {
	Title       string
	Artist      string
	Description string
}

// UploadResult is returned after a successful upload.
type UploadResult struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	DownloadURL string `json:"download_url"`
	MetaURL     string `json:"meta_url"`
}

// SongInfo is the public metadata view of a song. It never includes the
// storage location.
type SongInfo struct {
	Title            string    `json:"title"`
	Artist           string    `json:"artist"`
	Description      string    `json:"description,omitempty"`
	Slug             string    `json:"slug"`
	OriginalFilename string    `json:"original_filename"`
	ContentType      string    `json:"mime_type"`
	SizeBytes        int64     `json:"size_bytes"`
	DownloadCount    int64     `json:"download_count"`
	ViewCount        int64     `json:"view_count"`
	HasPassword      bool      `json:"has_password"`
	DownloadURL      string    `json:"download_url"`
	CreatedAt        time.Time `json:"created_at"`
}

// Repo is the slice of the record store the share flows depend on. The
// narrower slug and analytics interfaces are embedded so a single store
// value serves every collaborator.
type Repo interface {
	slug.Checker
	analytics.CounterStore
	analytics.EventStore
	analytics.OverviewStore

	CreateSong(ctx context.Context, song *database.Song) error
	GetSongBySlug(ctx context.Context, slug string) (*database.Song, error)
	ListRecentSongs(ctx context.Context, limit int) ([]*database.Song, error)
	GetStats(ctx context.Context) (*database.Stats, error)
}

// ShareService contains the business logic for sharing songs.
type ShareService struct {
	repo       Repo
	store      storage.Store
	slugs      *slug.Generator
	recorder   *analytics.Recorder
	aggregator *analytics.Aggregator
	cfg        *config.Config
}

// NewShareService creates a new share service.
func NewShareService(repo Repo, store storage.Store, cfg *config.Config) *ShareService {
	return &ShareService{
		repo:       repo,
		store:      store,
		slugs:      slug.NewGenerator(repo),
		recorder:   analytics.NewRecorder(repo, repo),
		aggregator: analytics.NewAggregator(repo),
		cfg:        cfg,
	}
}

// ProcessUpload handles an incoming song upload: validates the audio type,
// mints a unique slug, stores the bytes, and creates the DB record. The file
// is durably written before the record insert; if the insert fails the file
// is removed so no partial share is left behind.
func (s *ShareService) ProcessUpload(ctx context.Context, meta UploadMeta, filename, contentType string, data io.Reader, size int64, password string) (*UploadResult, error) {
	if size > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	safeName := sanitizeFilename(filename)
	ext := strings.ToLower(filepath.Ext(safeName))
	if err := validateAudioType(contentType, ext); err != nil {
		return nil, err
	}

	songSlug, err := s.slugs.Generate(ctx, meta.Title, meta.Artist)
	if err != nil {
		return nil, fmt.Errorf("failed to generate slug: %w", err)
	}

	written, err := s.store.Save(songSlug, ext, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	var passwordHash *string
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			s.removeStored(songSlug, ext)
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		h := string(hash)
		passwordHash = &h
	}

	now := time.Now().UTC()
	song := &database.Song{
		ID:           uuid.New(),
		Slug:         songSlug,
		Title:        meta.Title,
		Artist:       meta.Artist,
		Description:  meta.Description,
		Filename:     safeName,
		Extension:    ext,
		ContentType:  contentType,
		SizeBytes:    written,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateSong(ctx, song); err != nil {
		// Clean up stored file on DB failure
		s.removeStored(songSlug, ext)
		return nil, fmt.Errorf("failed to create song record: %w", err)
	}

	slog.Info("upload processed",
		"id", song.ID,
		"slug", songSlug,
		"title", meta.Title,
		"artist", meta.Artist,
		"size", written,
	)

	return &UploadResult{
		ID:          song.ID.String(),
		Slug:        songSlug,
		DownloadURL: s.downloadURL(songSlug),
		MetaURL:     fmt.Sprintf("%s/api/songs/%s", s.cfg.BaseURL, songSlug),
	}, nil
}

// GetSong returns public metadata for a slug and records a view event.
func (s *ShareService) GetSong(ctx context.Context, songSlug string, info analytics.RequestInfo) (*SongInfo, error) {
	song, err := s.repo.GetSongBySlug(ctx, songSlug)
	if err != nil {
		if errors.Is(err, database.ErrSongNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// Best-effort analytics; the lookup succeeds regardless.
	s.recorder.Record(ctx, song, analytics.EventView, info)

	return s.songInfo(song), nil
}

// Download validates the link password (if set), records a download event,
// and returns the on-disk path, original filename, and content type.
func (s *ShareService) Download(ctx context.Context, songSlug, password string, info analytics.RequestInfo) (filePath, filename, contentType string, err error) {
	song, err := s.repo.GetSongBySlug(ctx, songSlug)
	if err != nil {
		if errors.Is(err, database.ErrSongNotFound) {
			return "", "", "", ErrNotFound
		}
		return "", "", "", err
	}

	if song.PasswordHash != nil {
		if password == "" {
			return "", "", "", ErrPasswordRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(*song.PasswordHash), []byte(password)); err != nil {
			return "", "", "", ErrInvalidPassword
		}
	}

	path, err := s.store.GetPath(song.Slug, song.Extension)
	if err != nil {
		// The record exists but the blob is gone. Clients see not-found;
		// only the log tells the two cases apart.
		slog.Error("backing file missing for song", "slug", song.Slug, "error", err)
		return "", "", "", ErrNotFound
	}

	// Best-effort analytics; the download succeeds regardless.
	s.recorder.Record(ctx, song, analytics.EventDownload, info)

	contentType = song.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return path, song.Filename, contentType, nil
}

// ListRecent returns public metadata for the most recently shared songs.
func (s *ShareService) ListRecent(ctx context.Context, limit int) ([]*SongInfo, error) {
	songs, err := s.repo.ListRecentSongs(ctx, limit)
	if err != nil {
		return nil, err
	}

	infos := make([]*SongInfo, 0, len(songs))
	for _, song := range songs {
		infos = append(infos, s.songInfo(song))
	}
	return infos, nil
}

// Overview returns the aggregated analytics summary.
func (s *ShareService) Overview(ctx context.Context, limit int) (*analytics.Overview, error) {
	return s.aggregator.Overview(ctx, limit)
}

// GetStats returns aggregate server statistics.
func (s *ShareService) GetStats(ctx context.Context) (*database.Stats, error) {
	return s.repo.GetStats(ctx)
}

func (s *ShareService) songInfo(song *database.Song) *SongInfo {
	return &SongInfo{
		Title:            song.Title,
		Artist:           song.Artist,
		Description:      song.Description,
		Slug:             song.Slug,
		OriginalFilename: song.Filename,
		ContentType:      song.ContentType,
		SizeBytes:        song.SizeBytes,
		DownloadCount:    song.DownloadCount,
		ViewCount:        song.ViewCount,
		HasPassword:      song.PasswordHash != nil,
		DownloadURL:      s.downloadURL(song.Slug),
		CreatedAt:        song.CreatedAt,
	}
}

func (s *ShareService) downloadURL(songSlug string) string {
	return fmt.Sprintf("%s/api/songs/%s/download", s.cfg.BaseURL, songSlug)
}

// removeStored deletes a blob written by a failed upload. The upload already
// failed, so the error is only logged; an orphaned blob must still be visible.
func (s *ShareService) removeStored(songSlug, ext string) {
	if err := s.store.Delete(songSlug, ext); err != nil {
		slog.Error("failed to remove stored file after failed upload",
			"slug", songSlug,
			"error", err,
		)
	}
}

// --- Helpers ---

// validateAudioType accepts a known audio MIME type, falling back to the
// extension allow-list when the content type is unrecognized.
func validateAudioType(contentType, ext string) error {
	if allowedMIMETypes[contentType] {
		return nil
	}
	if allowedExtensions[ext] {
		return nil
	}
	return ErrUnsupportedFormat
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")

	// Take only the base name
	name = filepath.Base(name)

	// Limit length
	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "upload"
	}

	return name
}
