package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/pagination"
)

// streamHeartbeat keeps idle event streams open through proxies.
const streamHeartbeat = 25 * time.Second

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/threads", h.EnsureThread)
	api.GET("/threads", h.ListThreads)
	api.GET("/threads/:id", h.GetThread)
	api.GET("/threads/:id/messages", h.ListMessages)
	api.POST("/threads/:id/messages", h.SendMessage)
	api.GET("/threads/:id/stream", h.StreamMessages)
	api.POST("/threads/:id/media", h.SendMedia)
	api.POST("/threads/:id/read", h.MarkRead)
	api.DELETE("/messages/:id", h.DeleteMessage)
	api.GET("/unread", h.GetUnread)
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) EnsureThread(c echo.Context) error {
	var body struct {
		ParticipantID string `json:"participant_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.EnsureThread(c.Request().Context(), actor(c), body.ParticipantID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListThreads(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListThreads(c.Request().Context(), actor(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Thread{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetThread(c echo.Context) error {
	t, err := h.svc.GetThread(c.Request().Context(), actor(c), c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListMessages(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMessages(c.Request().Context(), actor(c), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Message{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type sendMessageRequest struct {
	Payload
	ReplyToID *uuid.UUID `json:"reply_to_id,omitempty"`
}

// SendMessage handles POST /threads/:id/messages. The recipient is the other
// participant of the thread.
func (h *Handler) SendMessage(c echo.Context) error {
	var body sendMessageRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message body")
	}
	ctx := c.Request().Context()
	uid := actor(c)
	t, err := h.svc.GetThread(ctx, uid, c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}

	msg, err := h.svc.Append(ctx, AppendRequest{
		ThreadID:    t.ID,
		SenderID:    uid,
		RecipientID: t.Other(uid),
		Payload:     body.Payload,
		ReplyToID:   body.ReplyToID,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// SendMedia handles multipart POST /threads/:id/media with fields file, kind
// and optional reply_to_id.
func (h *Handler) SendMedia(c echo.Context) error {
	ctx := c.Request().Context()
	uid := actor(c)

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	var replyTo *uuid.UUID
	if v := c.FormValue("reply_to_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid reply_to_id")
		}
		replyTo = &id
	}

	t, err := h.svc.GetThread(ctx, uid, c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read file")
	}
	defer f.Close()

	msg, err := h.svc.SendMedia(ctx, MediaRequest{
		ThreadID:    t.ID,
		SenderID:    uid,
		RecipientID: t.Other(uid),
		Kind:        PayloadKind(c.FormValue("kind")),
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Body:        f,
		ReplyToID:   replyTo,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) MarkRead(c echo.Context) error {
	marked, err := h.svc.MarkAllRead(c.Request().Context(), c.Param("id"), actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"thread_id": c.Param("id"), "marked": marked})
}

func (h *Handler) DeleteMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteMessage(c.Request().Context(), id, actor(c)); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetUnread(c echo.Context) error {
	summary, err := h.svc.UnreadSummary(c.Request().Context(), actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, summary)
}

// StreamMessages handles GET /threads/:id/stream as server-sent events. Each
// "messages" event carries the full list, newest first. Slow readers only
// receive the latest list.
func (h *Handler) StreamMessages(c echo.Context) error {
	ctx := c.Request().Context()
	threadID := c.Param("id")
	if _, err := h.svc.GetThread(ctx, actor(c), threadID); err != nil {
		return apperr.ToHTTP(err)
	}

	updates := make(chan []*Message, 1)
	cancel, err := h.svc.Subscribe(ctx, threadID, func(msgs []*Message) {
		for {
			select {
			case updates <- msgs:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(resp, ": keepalive\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		case msgs := <-updates:
			if msgs == nil {
				msgs = []*Message{}
			}
			data, err := json.Marshal(msgs)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(resp, "event: messages\ndata: %s\n\n", data); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}
