package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/evaluation"
	"github.com/cohortly/cohortly/core/user"
)

type evaluationApi struct {
	svc      evaluation.Service
	batchSvc batch.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerEvaluationAPI(g *echo.Group, jwt echo.MiddlewareFunc, api *evaluationApi) {
	eg := g.Group("/evaluations", jwt)
	eg.GET("", api.query)
	eg.POST("", api.create, staffMiddleware())

	// detail endpoints
	dg := eg.Group("/:id", api.evaluationMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, api.managerMiddleware)
	dg.DELETE("", api.destroy, api.managerMiddleware)
}

// evaluationMiddleware loads the `:id` evaluation into the context.
// Trainees can only read their own evaluations, staff the ones of the batches they manage.
func (api *evaluationApi) evaluationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		ctxUsr, err := getContextUser(ctx, api.usrSvc)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}
		ev, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == evaluation.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding evaluation by ID")
		}
		b, canManage, err := canManageBatchIn(ctx, api.batchSvc, ctxUsr, ev.BatchID)
		if err != nil {
			return err
		}
		if !canManage && ev.TraineeID != ctxUsr.ID {
			return errHttpNotFound
		}
		ctx.Set(contextObjectKey, ev)
		ctx.Set(contextBatchKey, b)
		return next(ctx)
	}
}

func (api *evaluationApi) managerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		b, err := getContextBatch(ctx)
		if err != nil {
			return err
		}
		ctxUsr, err := getContextUser(ctx, api.usrSvc)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}
		if !canManageBatch(ctxUsr, b) {
			return errHttpForbidden
		}
		return next(ctx)
	}
}

func getContextEvaluation(ctx echo.Context) (evaluation.Evaluation, error) {
	if ev, ok := ctx.Get(contextObjectKey).(evaluation.Evaluation); ok {
		return ev, nil
	}
	return evaluation.Evaluation{}, errors.New("evaluation object not found in echo.Context")
}

// Handlers

func (api *evaluationApi) create(ctx echo.Context) error {
	var data evaluation.NewEvaluation
	if err := bindAndValidate(ctx, &data, api.validate, "NewEvaluation"); err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	b, ok, err := canManageBatchIn(ctx, api.batchSvc, ctxUsr, data.BatchID)
	if err != nil {
		return err
	}
	if b.ID != "" && !ok {
		return errHttpForbidden
	}

	ev, err := api.svc.Create(ctx.Request().Context(), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "creating evaluation")
	}
	return ctx.JSON(http.StatusCreated, ev)
}

// query lists all evaluations for admins, the ones of their batches for trainers & their own for trainees.
func (api *evaluationApi) query(ctx echo.Context) error {
	filter := new(evaluation.QueryFilter)
	if err := bindAndValidate(ctx, filter, api.validate, "QueryFilter"); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	switch {
	case ctxUsr.IsAdmin():
	case ctxUsr.IsTrainer():
		batches, err := api.batchSvc.Query(ctx.Request().Context(), &batch.QueryFilter{TrainerID: ctxUsr.ID}, nil)
		if err != nil {
			return errors.Wrap(err, "querying batches")
		}
		allowed := make([]string, len(batches))
		for i, b := range batches {
			allowed[i] = b.ID
		}
		if filter.BatchIDs = scopeBatchIDs(filter.BatchIDs, allowed); len(filter.BatchIDs) == 0 {
			return ctx.JSON(http.StatusOK, []evaluation.Evaluation{})
		}
	default:
		filter.TraineeID = ctxUsr.ID
	}

	evals, err := api.svc.Query(ctx.Request().Context(), filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying evaluations")
	}
	if evals == nil {
		evals = []evaluation.Evaluation{}
	}
	return ctx.JSON(http.StatusOK, evals)
}

func (api *evaluationApi) retrieve(ctx echo.Context) error {
	ev, err := getContextEvaluation(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *evaluationApi) update(ctx echo.Context) error {
	ev, err := getContextEvaluation(ctx)
	if err != nil {
		return err
	}
	var data evaluation.UpdateEvaluation
	if err := bindAndValidate(ctx, &data, api.validate, "UpdateEvaluation"); err != nil {
		return err
	}

	ev, err = api.svc.Update(ctx.Request().Context(), ev.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating evaluation")
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *evaluationApi) destroy(ctx echo.Context) error {
	ev, err := getContextEvaluation(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), ev.ID); err != nil {
		return errors.Wrap(err, "deleting evaluation")
	}
	return ctx.NoContent(http.StatusNoContent)
}
