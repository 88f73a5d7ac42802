package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xraph/conductor/workflow"
)

func (a *API) purge(c echo.Context) error {
	var req PurgeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(fmt.Sprintf("invalid body: %v", err))
	}

	var olderThan time.Duration
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil {
			return badRequest(fmt.Sprintf("invalid older_than: %v", err))
		}
		olderThan = d
	}

	report, err := a.eng.Purger().Purge(c.Request().Context(), workflow.PurgeRequest{
		OwnerTag:        req.OwnerTag,
		DefinitionNames: req.DefinitionNames,
		OlderThan:       olderThan,
		MaxPurgeCount:   req.MaxPurgeCount,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
