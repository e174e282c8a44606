package scheduling

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/appointments", h.Propose)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/pending-count", h.PendingCount)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments/:id/accept", h.Accept)
	api.POST("/appointments/:id/reject", h.Reject)
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) Propose(c echo.Context) error {
	var req ProposeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Propose(c.Request().Context(), actor(c), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

// ListAppointments serves scope=upcoming (default) or scope=all.
func (h *Handler) ListAppointments(c echo.Context) error {
	ctx := c.Request().Context()
	switch c.QueryParam("scope") {
	case "", "upcoming":
		items, err := h.svc.ListUpcoming(ctx, actor(c), h.svc.Now())
		if err != nil {
			return apperr.ToHTTP(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), len(items), 0))
	case "all":
		pg := pagination.FromContext(c)
		items, total, err := h.svc.ListAll(ctx, actor(c), pg.Limit, pg.Offset)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		if items == nil {
			items = []*Appointment{}
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "scope must be upcoming or all")
	}
}

func (h *Handler) PendingCount(c echo.Context) error {
	n, err := h.svc.PendingCount(c.Request().Context(), actor(c), h.svc.Now())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"pending": n})
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), actor(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Accept(c echo.Context) error {
	return h.respond(c, DecisionAccept)
}

func (h *Handler) Reject(c echo.Context) error {
	return h.respond(c, DecisionReject)
}

func (h *Handler) respond(c echo.Context, d Decision) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Respond(c.Request().Context(), actor(c), id, d)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}
