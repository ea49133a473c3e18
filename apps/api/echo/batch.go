package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/user"
)

type batchApi struct {
	svc      batch.Service
	usrSvc   user.Service
	validate *validator.Validate
}

// registerBatchAPI registers the batch endpoints & returns the `/batches/:id` group for nested resources.
func registerBatchAPI(g *echo.Group, jwt echo.MiddlewareFunc, api *batchApi) *echo.Group {
	bg := g.Group("/batches", jwt)
	bg.GET("", api.query)
	bg.POST("", api.create, adminMiddleware())
	bg.DELETE("", api.destroyMultiple, adminMiddleware())

	// detail endpoints
	dg := bg.Group("/:id", batchMiddleware(api.svc, api.usrSvc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminMiddleware())
	dg.DELETE("", api.destroy, adminMiddleware())
	dg.POST("/advance", api.advance, adminMiddleware())
	dg.POST("/cancel", api.cancel, adminMiddleware())
	dg.GET("/trainees", api.listTrainees)
	dg.POST("/trainees", api.addTrainees, adminMiddleware())
	dg.DELETE("/trainees", api.removeTrainees, adminMiddleware())
	return dg
}

// Handlers

func (api *batchApi) create(ctx echo.Context) error {
	var data batch.NewBatch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBatch")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}

	b, err := api.svc.Create(rctx, data)
	if err != nil {
		return errors.Wrap(err, "creating batch")
	}
	return ctx.JSON(http.StatusCreated, b)
}

// query lists all batches for admins, their own batches for trainers & trainees.
func (api *batchApi) query(ctx echo.Context) error {
	filter := new(batch.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	if err := filter.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	switch {
	case ctxUsr.IsAdmin():
	case ctxUsr.IsTrainer():
		filter.TrainerID = ctxUsr.ID
	default:
		filter.TraineeID = ctxUsr.ID
	}

	batches, err := api.svc.Query(ctx.Request().Context(), filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying batches")
	}
	if batches == nil {
		batches = []batch.Batch{}
	}
	return ctx.JSON(http.StatusOK, batches)
}

func (api *batchApi) retrieve(ctx echo.Context) error {
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *batchApi) update(ctx echo.Context) error {
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}

	var data batch.UpdateBatch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateBatch")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, b, api.validate, api.svc); err != nil {
		return err
	}

	b, err = api.svc.Update(rctx, b.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating batch")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *batchApi) destroy(ctx echo.Context) error {
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), b.ID); err != nil {
		return errors.Wrap(err, "deleting batch")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *batchApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}
	if err := api.svc.Delete(ctx.Request().Context(), query.IDs...); err != nil {
		return errors.Wrap(err, "deleting batches")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *batchApi) advance(ctx echo.Context) error {
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}
	b, err = api.svc.Advance(ctx.Request().Context(), b.ID)
	if err != nil {
		return errors.Wrap(err, "advancing batch")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *batchApi) cancel(ctx echo.Context) error {
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}
	b, err = api.svc.Cancel(ctx.Request().Context(), b.ID)
	if err != nil {
		return errors.Wrap(err, "cancelling batch")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *batchApi) listTrainees(ctx echo.Context) error {
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}
	trainees, err := api.svc.ListTrainees(ctx.Request().Context(), b.ID)
	if err != nil {
		return errors.Wrap(err, "listing trainees")
	}
	return ctx.JSON(http.StatusOK, trainees)
}

func (api *batchApi) addTrainees(ctx echo.Context) error {
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}
	var data batch.Enrollment
	if err := bindAndValidate(ctx, &data, api.validate, "Enrollment"); err != nil {
		return err
	}

	b, err = api.svc.AddTrainees(ctx.Request().Context(), b.ID, data.TraineeIDs)
	if err != nil {
		return errors.Wrap(err, "adding trainees")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *batchApi) removeTrainees(ctx echo.Context) error {
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}
	var data batch.Enrollment
	if err := bindAndValidate(ctx, &data, api.validate, "Enrollment"); err != nil {
		return err
	}

	b, err = api.svc.RemoveTrainees(ctx.Request().Context(), b.ID, data.TraineeIDs)
	if err != nil {
		return errors.Wrap(err, "removing trainees")
	}
	return ctx.JSON(http.StatusOK, b)
}
