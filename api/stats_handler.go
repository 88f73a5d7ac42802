package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

func (a *API) stats(c echo.Context) error {
	ctx := c.Request().Context()

	counts, err := a.countTasks(c, "")
	if err != nil {
		return err
	}

	workers, err := a.eng.Store().ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	leader, err := a.eng.Store().GetLeader(ctx)
	if err != nil {
		return fmt.Errorf("get leader: %w", err)
	}

	resp := StatsResponse{
		Tasks:     counts,
		Workers:   len(workers),
		Schedules: []ScheduleInfo{},
	}
	if leader != nil {
		resp.Leader = leader.ID.String()
	}
	for _, e := range a.eng.Scheduler().Entries() {
		resp.Schedules = append(resp.Schedules, ScheduleInfo{
			Name:      e.Name,
			Schedule:  e.Schedule,
			LastError: e.LastError,
			NextRunAt: e.NextRunAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, resp)
}
