package api

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/iwasamnot/campuschat/internal/directory"
	"github.com/iwasamnot/campuschat/internal/presence"
)

// DirectoryHandler serves the cached user directory.
type DirectoryHandler struct {
	cache    *directory.Cache
	presence *presence.Client
}

// NewDirectoryHandler creates a DirectoryHandler. pres may be nil.
func NewDirectoryHandler(cache *directory.Cache, pres *presence.Client) *DirectoryHandler {
	return &DirectoryHandler{cache: cache, presence: pres}
}

// ListUsers handles GET /api/v1/directory.
func (h *DirectoryHandler) ListUsers(c echo.Context) error {
	entries := h.cache.Snapshot()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DisplayName < entries[j].DisplayName
	})

	if h.presence != nil {
		ctx := c.Request().Context()
		for i := range entries {
			online, err := h.presence.IsOnline(ctx, entries[i].ID)
			if err != nil {
				break // serve directory data without live presence
			}
			entries[i].Online = online
		}
	}

	return c.JSON(http.StatusOK, entries)
}

// GetUser handles GET /api/v1/directory/:id.
func (h *DirectoryHandler) GetUser(c echo.Context) error {
	entry, ok := h.cache.Get(c.Param("id"))
	if !ok {
		return Error(c, http.StatusNotFound, "NOT_FOUND", "user not found")
	}
	return c.JSON(http.StatusOK, entry)
}

// TypingUsers handles GET /api/v1/typing. It returns the users with a
// typing signal inside the recency window.
func (h *DirectoryHandler) TypingUsers(c echo.Context) error {
	if h.presence == nil {
		return c.JSON(http.StatusOK, []string{})
	}
	ids, err := h.presence.TypingUsers(c.Request().Context())
	if err != nil {
		return Error(c, http.StatusServiceUnavailable, "UNAVAILABLE", "presence backend unreachable")
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, ids)
}
