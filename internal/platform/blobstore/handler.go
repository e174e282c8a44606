package blobstore

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler serves stored media to authenticated clients. Used with the
// in-memory store; S3 deployments serve media from the bucket URL.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/media/*", h.HandleDownload)
}

// HandleDownload handles GET /media/<key>.
func (h *Handler) HandleDownload(c echo.Context) error {
	key := c.Param("*")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "media key is required")
	}

	rc, asset, err := h.store.Get(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "media not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, asset.ContentType)
	if asset.Size > 0 {
		resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(asset.Size, 10))
	}
	resp.Header().Set("ETag", `"`+asset.Hash+`"`)
	resp.WriteHeader(http.StatusOK)
	_, err = io.Copy(resp, rc)
	return err
}
