package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/jmehdipour/oob-signer/internal/repository"
	"github.com/jmehdipour/oob-signer/internal/util"
	echo "github.com/labstack/echo/v4"
)

func listSessionsHandler(chRepo repository.CHSessionsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if chRepo == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "reporting disabled"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var f repository.SessionFilter
		if raw := strings.TrimSpace(c.QueryParam("stage")); raw != "" {
			if st := model.SessionStage(raw); st.Valid() {
				f.Stage = st
			}
		}
		if k, ok := model.ParseKind(c.QueryParam("kind")); ok {
			f.Kind = k.String()
		}
		f.Origin = util.NormalizeOrigin(c.QueryParam("origin"))

		rows, err := chRepo.ListRecent(c.Request().Context(), f, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
