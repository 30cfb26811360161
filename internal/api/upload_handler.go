package api

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/snowflake"
	"github.com/iwasamnot/campuschat/internal/storage"
)

const maxUploadSize = 10 << 20 // 10 MB

var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
}

// FileStorage abstracts object storage operations for testability.
type FileStorage interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	GetURL(key string) string
	Delete(ctx context.Context, key string) error
}

// UploadHandler handles attachment uploads. The returned Attachment is
// meant to be embedded in a subsequent send.
type UploadHandler struct {
	storage   FileStorage
	snowflake *snowflake.Generator
}

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(st FileStorage, gen *snowflake.Generator) *UploadHandler {
	return &UploadHandler{storage: st, snowflake: gen}
}

// Upload handles POST /api/v1/attachments.
func (h *UploadHandler) Upload(c echo.Context) error {
	if h.storage == nil {
		return Error(c, http.StatusServiceUnavailable, "UPLOADS_DISABLED", "attachment storage is not configured")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return Error(c, http.StatusBadRequest, "MISSING_FILE", "file field is required")
	}

	if file.Size > maxUploadSize {
		return Error(c, http.StatusBadRequest, "FILE_TOO_LARGE", "file must be under 10 MB")
	}

	contentType := file.Header.Get("Content-Type")
	if !isAllowedContentType(contentType) {
		return Error(c, http.StatusBadRequest, "INVALID_CONTENT_TYPE", "file type not allowed")
	}

	src, err := file.Open()
	if err != nil {
		return Error(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
	defer src.Close()

	filename := filepath.Base(file.Filename)
	key := storage.AttachmentKey(h.snowflake.Generate(), filename)

	if err := h.storage.Upload(c.Request().Context(), key, src, file.Size, contentType); err != nil {
		return Error(c, http.StatusInternalServerError, "UPLOAD_FAILED", "failed to upload file")
	}

	return c.JSON(http.StatusCreated, models.Attachment{
		URL:  h.storage.GetURL(key),
		Name: filename,
		Mime: contentType,
		Size: file.Size,
	})
}

func isAllowedContentType(ct string) bool {
	if allowedContentTypes[ct] {
		return true
	}
	// Allow any image/* subtype.
	return strings.HasPrefix(ct, "image/")
}
