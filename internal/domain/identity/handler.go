package identity

import (
	"net/http"
	"strconv"

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
	api.GET("/profiles/me", h.GetMe)
	api.PUT("/profiles/me", h.UpsertMe)
	api.GET("/profiles/:id", h.GetProfile)
	api.GET("/health-workers", h.SearchHealthWorkers)
	api.GET("/patients", h.SearchPatients)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.PUT("/profiles/:id/verification", h.SetVerification)
}

func (h *Handler) GetMe(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	p, err := h.svc.GetProfile(c.Request().Context(), uid)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpsertMe(c echo.Context) error {
	var p Profile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.UpsertProfile(c.Request().Context(), uid, &p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetProfile(c echo.Context) error {
	p, err := h.svc.GetProfile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

// SearchHealthWorkers handles GET /health-workers?specialization=&min_experience=&name=.
func (h *Handler) SearchHealthWorkers(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := HealthWorkerFilter{
		Specialization: c.QueryParam("specialization"),
		Name:           c.QueryParam("name"),
	}
	if v := c.QueryParam("min_experience"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid min_experience")
		}
		f.MinExperience = n
	}

	items, total, err := h.svc.SearchHealthWorkers(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Profile{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	uid := auth.UserIDFromContext(c.Request().Context())
	items, total, err := h.svc.SearchPatients(c.Request().Context(), uid, c.QueryParam("name"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Profile{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) SetVerification(c echo.Context) error {
	var body struct {
		Verified *bool `json:"verified"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Verified == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "verified is required")
	}
	if err := h.svc.SetVerified(c.Request().Context(), c.Param("id"), *body.Verified); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
