package apperr

import "github.com/labstack/echo/v4"

// ToHTTP converts err into an echo error whose body names the failure kind and
// whether the caller may retry the action.
func ToHTTP(err error) *echo.HTTPError {
	return echo.NewHTTPError(HTTPStatus(err), map[string]interface{}{
		"error":     err.Error(),
		"kind":      KindOf(err).String(),
		"retryable": Retryable(err),
	})
}
