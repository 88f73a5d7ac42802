package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/workflow"
)

func (a *API) listDefinitions(c echo.Context) error {
	names := []string{}
	if cat := a.eng.Catalog(); cat != nil {
		names = cat.Names()
	}
	return c.JSON(http.StatusOK, ListDefinitionsResponse{Names: names})
}

func (a *API) listWorkflows(c echo.Context) error {
	var req ListWorkflowsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(fmt.Sprintf("invalid query: %v", err))
	}

	insts, err := a.eng.Workflows().List(c.Request().Context(), workflow.ListOpts{
		Limit:          defaultLimit(req.Limit),
		Offset:         req.Offset,
		OwnerTag:       req.OwnerTag,
		DefinitionName: req.Definition,
	})
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}
	return c.JSON(http.StatusOK, insts)
}

func (a *API) createWorkflow(c echo.Context) error {
	var req CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(fmt.Sprintf("invalid body: %v", err))
	}
	if req.Definition == "" {
		return badRequest("definition is required")
	}

	ctx := c.Request().Context()
	inst, err := a.eng.CreateWorkflow(ctx, req.Definition, req.InitialArgs, req.OwnerTag)
	if err != nil {
		return err
	}

	resp := CreateWorkflowResponse{Workflow: inst}
	if req.Start {
		resp.TaskID, err = a.eng.Workflows().Start(ctx, inst, req.StartArgs...)
		if err != nil {
			return err
		}
	}
	return c.JSON(http.StatusCreated, resp)
}

func (a *API) getWorkflow(c echo.Context) error {
	wfID, err := workflowID(c)
	if err != nil {
		return err
	}

	var opts workflow.EmbellishOpts
	if err := echo.QueryParamsBinder(c).
		Bool("last_task_run", &opts.LastTaskRun).
		Bool("prev_task_runs", &opts.PrevTaskRuns).
		BindError(); err != nil {
		return badRequest(fmt.Sprintf("invalid query: %v", err))
	}

	view, err := a.eng.Workflows().Embellish(c.Request().Context(), wfID, opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (a *API) deleteWorkflow(c echo.Context) error {
	wfID, err := workflowID(c)
	if err != nil {
		return err
	}
	if err := a.eng.Workflows().Delete(c.Request().Context(), wfID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) workflowStatus(c echo.Context) error {
	wfID, err := workflowID(c)
	if err != nil {
		return err
	}
	st, err := a.eng.Workflows().Status(c.Request().Context(), wfID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StatusResponse{WorkflowID: wfID, Status: string(st)})
}

func (a *API) startWorkflow(c echo.Context) error {
	wfID, err := workflowID(c)
	if err != nil {
		return err
	}
	var req StartWorkflowRequest
	if err := bindOptionalBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	inst, err := a.eng.Workflows().Load(ctx, wfID)
	if err != nil {
		return err
	}
	taskID, err := a.eng.Workflows().Start(ctx, inst, req.Args...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, StartWorkflowResponse{TaskID: taskID})
}

func (a *API) pauseWorkflow(c echo.Context) error {
	wfID, err := workflowID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	inst, err := a.eng.Workflows().Load(ctx, wfID)
	if err != nil {
		return err
	}
	res, err := a.eng.Workflows().Pause(ctx, inst)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (a *API) resumeWorkflow(c echo.Context) error {
	wfID, err := workflowID(c)
	if err != nil {
		return err
	}

	var opts workflow.ResumeOpts
	if err := echo.QueryParamsBinder(c).Bool("force", &opts.Force).BindError(); err != nil {
		return badRequest(fmt.Sprintf("invalid query: %v", err))
	}
	var req ResumeWorkflowRequest
	if err := bindOptionalBody(c, &req); err != nil {
		return err
	}
	opts.OverrideArgs = req.Args

	ctx := c.Request().Context()
	inst, err := a.eng.Workflows().Load(ctx, wfID)
	if err != nil {
		return err
	}
	res, err := a.eng.Workflows().Resume(ctx, inst, opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func workflowID(c echo.Context) (id.WorkflowID, error) {
	wfID, err := id.ParseWorkflowID(c.Param("workflowId"))
	if err != nil {
		return id.Nil, badRequest(fmt.Sprintf("invalid workflow ID: %v", err))
	}
	return wfID, nil
}

// bindOptionalBody decodes a JSON body when one was sent.
func bindOptionalBody(c echo.Context, dst any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return badRequest(fmt.Sprintf("invalid body: %v", err))
	}
	return nil
}
