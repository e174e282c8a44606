package notification

import (
	"net/http"
	"strconv"

	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/labstack/echo/v4"
)

// Handler exposes the caller's notifications over HTTP.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes registers notification routes on the authenticated group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.HandleList)
	api.GET("/notifications/stats", h.HandleStats, auth.RequireRole(auth.RoleAdmin))
	api.POST("/notifications/:id/retry", h.HandleRetry, auth.RequireRole(auth.RoleAdmin))
}

// HandleList handles GET /notifications?limit=N.
func (h *Handler) HandleList(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	list, err := h.manager.ListByRecipient(c.Request().Context(), uid, limit)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if list == nil {
		list = []*Notification{}
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.manager.Stats(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) HandleRetry(c echo.Context) error {
	if err := h.manager.Retry(c.Request().Context(), c.Param("id")); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
