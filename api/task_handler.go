package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

// countedStatuses lists the statuses reported by task counts.
var countedStatuses = []task.Status{
	task.StatusPending,
	task.StatusStarted,
	task.StatusProgress,
	task.StatusRetry,
	task.StatusSuccess,
	task.StatusFailure,
	task.StatusRevoked,
}

func (a *API) getTask(c echo.Context) error {
	taskID, err := taskIDParam(c)
	if err != nil {
		return err
	}
	t, err := a.eng.Store().GetTask(c.Request().Context(), taskID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (a *API) revokeTask(c echo.Context) error {
	taskID, err := taskIDParam(c)
	if err != nil {
		return err
	}
	var terminate bool
	if err := echo.QueryParamsBinder(c).Bool("terminate", &terminate).BindError(); err != nil {
		return badRequest(fmt.Sprintf("invalid query: %v", err))
	}
	if err := a.eng.Revoke(c.Request().Context(), taskID, terminate); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) taskCounts(c echo.Context) error {
	queue := c.QueryParam("queue")
	counts, err := a.countTasks(c, queue)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

func (a *API) countTasks(c echo.Context, queue string) (TaskCountsResponse, error) {
	counts := make(TaskCountsResponse, len(countedStatuses))
	for _, st := range countedStatuses {
		n, err := a.eng.Store().CountTasks(c.Request().Context(), task.CountOpts{Queue: queue, Status: st})
		if err != nil {
			return nil, fmt.Errorf("count %s tasks: %w", st, err)
		}
		counts[string(st)] = n
	}
	return counts, nil
}

func taskIDParam(c echo.Context) (id.TaskID, error) {
	taskID, err := id.ParseTaskID(c.Param("taskId"))
	if err != nil {
		return id.Nil, badRequest(fmt.Sprintf("invalid task ID: %v", err))
	}
	return taskID, nil
}
