package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"songshare/internal/server/analytics"
	"songshare/internal/server/config"
	"songshare/internal/server/database"
	"songshare/internal/server/storage"

	"golang.org/x/crypto/bcrypt"
)

// fakeRepo is an in-memory Repo for exercising the service flows.
type fakeRepo struct {
	songs      map[string]*database.Song
	createErr  error
	counterErr error
	eventErr   error
	increments []database.Counter
	events     []*database.Event
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{songs: make(map[string]*database.Song)}
}

func (f *fakeRepo) SlugExists(_ context.Context, slug string) (bool, error) {
	_, ok := f.songs[slug]
	return ok, nil
}

func (f *fakeRepo) CreateSong(_ context.Context, song *database.Song) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.songs[song.Slug] = song
	return nil
}

func (f *fakeRepo) GetSongBySlug(_ context.Context, slug string) (*database.Song, error) {
	song, ok := f.songs[slug]
	if !ok {
		return nil, database.ErrSongNotFound
	}
	return song, nil
}

func (f *fakeRepo) ListRecentSongs(_ context.Context, limit int) ([]*database.Song, error) {
	var songs []*database.Song
	for _, s := range f.songs {
		songs = append(songs, s)
	}
	if limit < len(songs) {
		songs = songs[:limit]
	}
	return songs, nil
}

func (f *fakeRepo) IncrementCounter(_ context.Context, slug string, counter database.Counter, delta int64) error {
	if f.counterErr != nil {
		return f.counterErr
	}
	f.increments = append(f.increments, counter)
	return nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, event *database.Event) error {
	if f.eventErr != nil {
		return f.eventErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeRepo) CountSongs(context.Context) (int64, error) {
	return int64(len(f.songs)), nil
}

func (f *fakeRepo) TotalDownloads(context.Context) (int64, error) {
	var total int64
	for _, s := range f.songs {
		total += s.DownloadCount
	}
	return total, nil
}

func (f *fakeRepo) TopSongs(_ context.Context, limit int) ([]*database.Song, error) {
	return f.ListRecentSongs(context.Background(), limit)
}

func (f *fakeRepo) RecentDownloadEvents(_ context.Context, limit int) ([]*database.Event, error) {
	events := f.events
	if limit < len(events) {
		events = events[:limit]
	}
	return events, nil
}

func (f *fakeRepo) GetStats(context.Context) (*database.Stats, error) {
	return &database.Stats{TotalSongs: int64(len(f.songs))}, nil
}

// newTestService wires a ShareService to a fake repo and a real filesystem
// store rooted in a temp dir.
func newTestService(t *testing.T, repo *fakeRepo) (*ShareService, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{MaxFileSize: 10 * 1024 * 1024, BaseURL: "http://localhost:8080"}
	return NewShareService(repo, storage.NewFileSystemStore(dir), cfg), dir
}

// --- Audio type validation ---

func TestValidateAudioType(t *testing.T) {
	t.Run("accepts known audio MIME types", func(t *testing.T) {
		for _, ct := range []string{
			"audio/mpeg", "audio/wav", "audio/x-wav", "audio/flac",
			"audio/aac", "audio/ogg", "audio/mp4", "audio/x-m4a",
		} {
			if err := validateAudioType(ct, ".bin"); err != nil {
				t.Errorf("expected %s to be accepted, got %v", ct, err)
			}
		}
	})

	t.Run("falls back to extension for unknown MIME type", func(t *testing.T) {
		for _, ext := range []string{".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a", ".mp4"} {
			if err := validateAudioType("application/octet-stream", ext); err != nil {
				t.Errorf("expected %s to be accepted, got %v", ext, err)
			}
		}
	})

	t.Run("rejects non-audio uploads", func(t *testing.T) {
		tests := []struct {
			contentType string
			ext         string
		}{
			{"application/pdf", ".pdf"},
			{"image/png", ".png"},
			{"text/plain", ".txt"},
			{"application/octet-stream", ".exe"},
			{"", ""},
		}
		for _, tt := range tests {
			if err := validateAudioType(tt.contentType, tt.ext); !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("validateAudioType(%q, %q): expected ErrUnsupportedFormat, got %v",
					tt.contentType, tt.ext, err)
			}
		}
	})
}

// --- Filename sanitization ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple name", "song.mp3", "song.mp3"},
		{"strips directory", "/path/to/song.mp3", "song.mp3"},
		{"strips windows path", "C:\\Users\\test\\song.mp3", "song.mp3"},
		{"empty name", "", "upload"},
		{"dot name", ".", "upload"},
		{"replaces slashes", "a/b/c.flac", "c.flac"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// --- Upload validation (paths that fail before any storage access) ---

func TestProcessUpload_Validation(t *testing.T) {
	cfg := &config.Config{MaxFileSize: 1024, BaseURL: "http://localhost:8080"}
	svc := NewShareService(nil, nil, cfg)

	t.Run("rejects oversized file", func(t *testing.T) {
		_, err := svc.ProcessUpload(context.Background(),
			UploadMeta{Title: "T", Artist: "A"},
			"big.mp3", "audio/mpeg", bytes.NewReader(nil), 2048, "")
		if !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("expected ErrFileTooLarge, got %v", err)
		}
	})

	t.Run("rejects unsupported format before touching storage", func(t *testing.T) {
		_, err := svc.ProcessUpload(context.Background(),
			UploadMeta{Title: "T", Artist: "A"},
			"document.pdf", "application/pdf", bytes.NewReader(nil), 10, "")
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
		}
	})

	t.Run("generic content type with non-audio extension is rejected", func(t *testing.T) {
		_, err := svc.ProcessUpload(context.Background(),
			UploadMeta{Title: "T", Artist: "A"},
			"evil.exe", "application/octet-stream", bytes.NewReader(nil), 10, "")
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
		}
	})
}

// --- Upload / download flows ---

func TestProcessUpload(t *testing.T) {
	t.Run("failed record insert removes the stored file", func(t *testing.T) {
		repo := newFakeRepo()
		repo.createErr = errors.New("connection refused")
		svc, dir := newTestService(t, repo)

		_, err := svc.ProcessUpload(context.Background(),
			UploadMeta{Title: "Echoes", Artist: "Floyd"},
			"echoes.mp3", "audio/mpeg", bytes.NewReader([]byte("audio bytes")), 11, "")
		if err == nil {
			t.Fatal("expected error from failed insert")
		}

		entries, readErr := os.ReadDir(dir)
		if readErr != nil {
			t.Fatalf("failed to read storage dir: %v", readErr)
		}
		if len(entries) != 0 {
			t.Errorf("expected no stored files after failed insert, found %d", len(entries))
		}
	})
}

func TestGetSong(t *testing.T) {
	t.Run("unknown slug returns not found", func(t *testing.T) {
		svc, _ := newTestService(t, newFakeRepo())

		_, err := svc.GetSong(context.Background(), "never-issued-abc123", analytics.RequestInfo{})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("records a view", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(t, repo)

		result, err := svc.ProcessUpload(context.Background(),
			UploadMeta{Title: "Echoes", Artist: "Floyd"},
			"echoes.mp3", "audio/mpeg", bytes.NewReader([]byte("audio bytes")), 11, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := svc.GetSong(context.Background(), result.Slug, analytics.RequestInfo{IP: "203.0.113.9"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.Title != "Echoes" || info.Slug != result.Slug {
			t.Errorf("unexpected metadata: %+v", info)
		}
		if len(repo.increments) != 1 || repo.increments[0] != database.CounterViews {
			t.Errorf("expected one view increment, got %v", repo.increments)
		}
		if len(repo.events) != 1 || repo.events[0].EventType != analytics.EventView {
			t.Errorf("expected one view event, got %+v", repo.events)
		}
	})
}

func TestDownload(t *testing.T) {
	upload := func(t *testing.T, svc *ShareService, content, password string) *UploadResult {
		t.Helper()
		result, err := svc.ProcessUpload(context.Background(),
			UploadMeta{Title: "Echoes", Artist: "Floyd"},
			"echoes.mp3", "audio/mpeg", bytes.NewReader([]byte(content)), int64(len(content)), password)
		if err != nil {
			t.Fatalf("upload failed: %v", err)
		}
		return result
	}

	t.Run("round trip preserves bytes, filename, and content type", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(t, repo)
		result := upload(t, svc, "exact audio bytes", "")

		path, filename, contentType, err := svc.Download(context.Background(), result.Slug, "", analytics.RequestInfo{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if filename != "echoes.mp3" {
			t.Errorf("expected original filename, got %q", filename)
		}
		if contentType != "audio/mpeg" {
			t.Errorf("expected audio/mpeg, got %q", contentType)
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			t.Fatalf("failed to read downloaded file: %v", readErr)
		}
		if string(content) != "exact audio bytes" {
			t.Errorf("expected stored bytes back, got %q", content)
		}
	})

	t.Run("unknown slug returns not found", func(t *testing.T) {
		svc, _ := newTestService(t, newFakeRepo())

		_, _, _, err := svc.Download(context.Background(), "never-issued-abc123", "", analytics.RequestInfo{})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("missing backing file returns not found", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(t, repo)
		result := upload(t, svc, "soon gone", "")

		// Simulate the blob vanishing out from under the record.
		song := repo.songs[result.Slug]
		path, err := svc.store.GetPath(song.Slug, song.Extension)
		if err != nil {
			t.Fatalf("expected stored file: %v", err)
		}
		os.Remove(path)

		_, _, _, err = svc.Download(context.Background(), result.Slug, "", analytics.RequestInfo{})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for lost file, got %v", err)
		}
	})

	t.Run("password-protected share requires the password", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(t, repo)
		result := upload(t, svc, "locked", "open-sesame")

		if _, _, _, err := svc.Download(context.Background(), result.Slug, "", analytics.RequestInfo{}); !errors.Is(err, ErrPasswordRequired) {
			t.Fatalf("expected ErrPasswordRequired, got %v", err)
		}
		if _, _, _, err := svc.Download(context.Background(), result.Slug, "wrong", analytics.RequestInfo{}); !errors.Is(err, ErrInvalidPassword) {
			t.Fatalf("expected ErrInvalidPassword, got %v", err)
		}
		if _, _, _, err := svc.Download(context.Background(), result.Slug, "open-sesame", analytics.RequestInfo{}); err != nil {
			t.Fatalf("expected success with correct password, got %v", err)
		}

		// The stored hash must not be the raw password.
		if hash := repo.songs[result.Slug].PasswordHash; hash == nil ||
			bcrypt.CompareHashAndPassword([]byte(*hash), []byte("open-sesame")) != nil {
			t.Error("expected a bcrypt hash of the supplied password")
		}
	})

	t.Run("analytics failure does not fail the download", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(t, repo)
		result := upload(t, svc, "still served", "")

		repo.counterErr = errors.New("connection refused")
		repo.eventErr = errors.New("connection refused")

		path, filename, _, err := svc.Download(context.Background(), result.Slug, "", analytics.RequestInfo{})
		if err != nil {
			t.Fatalf("expected success despite analytics failure, got %v", err)
		}
		if path == "" || filename == "" {
			t.Error("expected normal payload despite analytics failure")
		}

		if len(repo.increments) != 0 || len(repo.events) != 0 {
			t.Errorf("expected no recorded analytics, got %v / %v", repo.increments, repo.events)
		}
	})

	t.Run("records a download", func(t *testing.T) {
		repo := newFakeRepo()
		svc, _ := newTestService(t, repo)
		result := upload(t, svc, "counted", "")

		if _, _, _, err := svc.Download(context.Background(), result.Slug, "", analytics.RequestInfo{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(repo.increments) != 1 || repo.increments[0] != database.CounterDownloads {
			t.Errorf("expected one download increment, got %v", repo.increments)
		}
		if len(repo.events) != 1 || repo.events[0].EventType != analytics.EventDownload {
			t.Errorf("expected one download event, got %+v", repo.events)
		}
	})
}
