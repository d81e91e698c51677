package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"checkout-service/internal/apperror"
	"checkout-service/internal/auth"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "api").Logger()

// Response is the envelope every JSON endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func okMessage(c echo.Context, data interface{}, message string) error {
	return c.JSON(http.StatusOK, Response{Success: true, Data: data, Message: message})
}

func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation, apperror.KindInvalidState, apperror.KindGateway:
		return http.StatusBadRequest
	case apperror.KindUnauthorized:
		return http.StatusUnauthorized
	case apperror.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders errors into the response envelope. Domain errors
// carry a user-facing message; anything else is logged and hidden.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "An unexpected error occurred"

	var appErr *apperror.Error
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		status = statusFor(appErr.Kind)
		message = appErr.Message
		if status == http.StatusInternalServerError {
			logger.Error().Err(err).Msgf("%s %s failed", c.Request().Method, c.Path())
			message = "An unexpected error occurred"
		}
	case errors.As(err, &httpErr):
		status = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(status)
		}
	default:
		logger.Error().Err(err).Msgf("%s %s failed", c.Request().Method, c.Path())
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, Response{Success: false, Message: message})
	}
	if writeErr != nil {
		logger.Error().Err(writeErr).Msg("Error writing error response")
	}
}

func currentUser(c echo.Context) (*auth.User, error) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		return nil, apperror.Unauthorized("Authentication required")
	}
	return user, nil
}

func intParam(c echo.Context, name string) (int, error) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, apperror.Validation("Invalid %s", name)
	}
	return id, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperror.Validation("Invalid request payload")
	}
	return nil
}
