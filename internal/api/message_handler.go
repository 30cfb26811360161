package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iwasamnot/campuschat/internal/auth"
	"github.com/iwasamnot/campuschat/internal/chat"
	"github.com/iwasamnot/campuschat/internal/index"
	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/reconcile"
)

// MessageHandler handles message endpoints. Reads come from the reconciled
// view; writes go through the pipeline service.
type MessageHandler struct {
	service *chat.Service
	view    *reconcile.Reconciler
	index   *index.Indexer
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(svc *chat.Service, view *reconcile.Reconciler, ix *index.Indexer) *MessageHandler {
	return &MessageHandler{service: svc, view: view, index: ix}
}

type sendMessageRequest struct {
	Content        string             `json:"content"`
	ReplyToID      string             `json:"reply_to_id,omitempty"`
	ThreadParentID string             `json:"thread_parent_id,omitempty"`
	Attachment     *models.Attachment `json:"attachment,omitempty"`
}

// SendMessage handles POST /api/v1/messages.
func (h *MessageHandler) SendMessage(c echo.Context) error {
	userID := auth.GetUserID(c)

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	msg, err := h.service.Send(c.Request().Context(), userID, req.Content, chat.SendOpts{
		ReplyToID:      req.ReplyToID,
		ThreadParentID: req.ThreadParentID,
		Attachment:     req.Attachment,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, msg)
}

// GetMessages handles GET /api/v1/messages. The list is the reconciled
// view, already ordered; limit trims to the newest N.
func (h *MessageHandler) GetMessages(c echo.Context) error {
	messages := h.view.Messages()

	if l := c.QueryParam("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			return Error(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
		}
		if len(messages) > parsed {
			messages = messages[len(messages)-parsed:]
		}
	}

	if ve := h.view.Err(); ve != nil {
		c.Response().Header().Set("X-View-Error", ve.Category.String())
	}
	return c.JSON(http.StatusOK, messages)
}

// GetMessage handles GET /api/v1/messages/:id.
func (h *MessageHandler) GetMessage(c echo.Context) error {
	msg, ok := h.view.Get(c.Param("id"))
	if !ok {
		return Error(c, http.StatusNotFound, "NOT_FOUND", "message not found")
	}
	return c.JSON(http.StatusOK, msg)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// EditMessage handles PATCH /api/v1/messages/:id.
func (h *MessageHandler) EditMessage(c echo.Context) error {
	userID := auth.GetUserID(c)

	var req editMessageRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	msg, err := h.service.Edit(c.Request().Context(), userID, c.Param("id"), req.Content)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, msg)
}

// DeleteMessage handles DELETE /api/v1/messages/:id.
func (h *MessageHandler) DeleteMessage(c echo.Context) error {
	userID := auth.GetUserID(c)

	if err := h.service.Delete(c.Request().Context(), userID, c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

// ToggleReaction handles PUT /api/v1/messages/:id/reactions.
func (h *MessageHandler) ToggleReaction(c echo.Context) error {
	userID := auth.GetUserID(c)

	var req reactRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	msg, err := h.service.ToggleReaction(c.Request().Context(), userID, c.Param("id"), req.Emoji)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, msg)
}

// TogglePin handles PUT /api/v1/messages/:id/pin.
func (h *MessageHandler) TogglePin(c echo.Context) error {
	userID := auth.GetUserID(c)

	msg, err := h.service.TogglePin(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, msg)
}

// AckRead handles POST /api/v1/messages/:id/ack.
func (h *MessageHandler) AckRead(c echo.Context) error {
	userID := auth.GetUserID(c)

	if err := h.service.AckRead(c.Request().Context(), c.Param("id"), userID, time.Now().UTC()); err != nil {
		return mapServiceError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// Typing handles POST /api/v1/typing.
func (h *MessageHandler) Typing(c echo.Context) error {
	h.service.Typing(c.Request().Context(), auth.GetUserID(c))
	return c.NoContent(http.StatusNoContent)
}

// pinnedResponse pairs the pinned list with the fallback flag so clients
// can label the order as approximate.
type pinnedResponse struct {
	Messages []models.Message `json:"messages"`
	Fallback bool             `json:"fallback_order"`
}

// GetPinned handles GET /api/v1/pins.
func (h *MessageHandler) GetPinned(c echo.Context) error {
	ids := h.index.PinnedIDs()
	messages := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := h.view.Get(id); ok {
			messages = append(messages, msg)
		}
	}
	return c.JSON(http.StatusOK, pinnedResponse{
		Messages: messages,
		Fallback: h.index.Fallback(),
	})
}

// threadResponse is a thread root with its ordered replies.
type threadResponse struct {
	ParentID string           `json:"parent_id"`
	Count    int              `json:"count"`
	Replies  []models.Message `json:"replies"`
}

// GetThread handles GET /api/v1/messages/:id/thread.
func (h *MessageHandler) GetThread(c echo.Context) error {
	parentID := c.Param("id")
	if _, ok := h.view.Get(parentID); !ok {
		return Error(c, http.StatusNotFound, "NOT_FOUND", "thread parent not found")
	}
	replies := h.index.ThreadReplies(parentID)
	return c.JSON(http.StatusOK, threadResponse{
		ParentID: parentID,
		Count:    len(replies),
		Replies:  replies,
	})
}
