package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/jmehdipour/oob-signer/internal/repository"
	"github.com/jmehdipour/oob-signer/internal/service/relay"
	echo "github.com/labstack/echo/v4"
)

func relayError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, relay.ErrInvalidSession):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session id"})
	case errors.Is(err, relay.ErrEmptyPayload):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "empty payload"})
	case errors.Is(err, repository.ErrResultExists):
		return c.JSON(http.StatusConflict, map[string]string{"error": "result already submitted"})
	default:
		c.Logger().Errorf("relay store failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
	}
}

func postPreconnectHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req model.PreconnectBody
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if err := svc.Preconnect(c.Request().Context(), c.Param("id"), req.Data); err != nil {
			return relayError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"preconnected": true, "id": c.Param("id")})
	}
}

// getPreconnectHandler is what the companion page calls for a {i,p:1} token.
func getPreconnectHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok, err := svc.PreconnectPayload(c.Request().Context(), c.Param("id"))
		if err != nil {
			return relayError(c, err)
		}
		if !ok {
			return c.JSON(http.StatusOK, map[string]any{"data": nil})
		}
		return c.JSON(http.StatusOK, model.PreconnectBody{Data: token})
	}
}

func postResultHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req model.ResultBody
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if err := svc.SubmitResult(c.Request().Context(), c.Param("id"), req.Data); err != nil {
			return relayError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]any{"accepted": true, "id": c.Param("id")})
	}
}

// getResultHandler answers {"data":null} until the companion has posted.
func getResultHandler(svc *relay.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, ok, err := svc.Result(c.Request().Context(), c.Param("id"))
		if err != nil {
			return relayError(c, err)
		}
		if !ok {
			return c.JSON(http.StatusOK, map[string]any{"data": nil})
		}
		return c.JSON(http.StatusOK, model.ResultBody{Data: data})
	}
}
