package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"songshare/internal/server/analytics"
	"songshare/internal/server/database"
	"songshare/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the SongShare API.
type Handler struct {
	svc *service.ShareService
	db  *database.DB
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.ShareService, db *database.DB) *Handler {
	return &Handler{svc: svc, db: db}
}

// HandleRoot handles GET /.
func (h *Handler) HandleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"message": "SongShare backend running",
	})
}

// HandleUpload handles POST /api/songs/upload.
// Accepts a multipart form with "file", "title", "artist" and optional
// "description" and "password" fields.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	title := c.FormValue("title")
	artist := c.FormValue("artist")
	if title == "" || artist == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "title and artist are required",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	result, err := h.svc.ProcessUpload(
		c.Request().Context(),
		service.UploadMeta{
			Title:       title,
			Artist:      artist,
			Description: c.FormValue("description"),
		},
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		src,
		fileHeader.Size,
		c.FormValue("password"),
	)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// HandleGetSong handles GET /api/songs/:slug.
// Returns song metadata without serving the file.
func (h *Handler) HandleGetSong(c echo.Context) error {
	info, err := h.svc.GetSong(c.Request().Context(), c.Param("slug"), requestInfo(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDownload handles GET /api/songs/:slug/download.
// Serves the file as an attachment with its original filename. Accepts an
// optional "password" query param for password-protected shares.
func (h *Handler) HandleDownload(c echo.Context) error {
	filePath, filename, contentType, err := h.svc.Download(
		c.Request().Context(),
		c.Param("slug"),
		c.QueryParam("password"),
		requestInfo(c),
	)
	if err != nil {
		return mapServiceError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentType, contentType)
	return c.Attachment(filePath, filename)
}

// HandleListSongs handles GET /api/songs.
// Returns the most recently shared songs, newest first.
func (h *Handler) HandleListSongs(c echo.Context) error {
	songs, err := h.svc.ListRecent(c.Request().Context(), limitParam(c, 20))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to list songs",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{"songs": songs})
}

// HandleAnalyticsOverview handles GET /api/analytics/overview.
func (h *Handler) HandleAnalyticsOverview(c echo.Context) error {
	overview, err := h.svc.Overview(c.Request().Context(), limitParam(c, 10))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to compute analytics overview",
		})
	}

	return c.JSON(http.StatusOK, overview)
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_songs":        stats.TotalSongs,
		"total_downloads":    stats.TotalDownloads,
		"total_views":        stats.TotalViews,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// requestInfo captures the request attributes recorded with analytics events.
func requestInfo(c echo.Context) analytics.RequestInfo {
	return analytics.RequestInfo{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Referer:   c.Request().Referer(),
	}
}

// limitParam parses the "limit" query param, falling back to a default.
func limitParam(c echo.Context, fallback int) int {
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			return n
		}
	}
	return fallback
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "song not found"})
	case errors.Is(err, service.ErrUnsupportedFormat):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported audio format"})
	case errors.Is(err, service.ErrPasswordRequired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "password_required"})
	case errors.Is(err, service.ErrInvalidPassword):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid password"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
