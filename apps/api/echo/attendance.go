package echoapi

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/cohortly/cohortly/core/attendance"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/user"
)

const mimeTextCSV = "text/csv; charset=UTF-8"

type attendanceApi struct {
	svc      attendance.Service
	usrSvc   user.Service
	validate *validator.Validate
}

// registerAttendanceAPI registers the attendance endpoints under `/batches/:id`.
func registerAttendanceAPI(bg *echo.Group, api *attendanceApi) {
	ag := bg.Group("/attendance")
	ag.GET("", api.query)
	ag.GET("/summary", api.summary)
	ag.POST("", api.mark, api.managerMiddleware)
	ag.GET("/export", api.export, api.managerMiddleware)
	ag.DELETE("/:recordID", api.destroy, api.managerMiddleware)
}

// managerMiddleware only lets through the users managing the context batch.
func (api *attendanceApi) managerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
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

// bindFilter binds the query filter scoped to the context batch. Trainees only see their own records.
func (api *attendanceApi) bindFilter(ctx echo.Context) (batch.Batch, *attendance.QueryFilter, error) {
	b, err := getContextBatch(ctx)
	if err != nil {
		return batch.Batch{}, nil, err
	}
	filter := new(attendance.QueryFilter)
	if err := bindAndValidate(ctx, filter, api.validate, "QueryFilter"); err != nil {
		return batch.Batch{}, nil, err
	}
	filter.BatchID = b.ID

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return batch.Batch{}, nil, errors.Wrap(err, "getting context user")
	}
	if !canManageBatch(ctxUsr, b) {
		filter.TraineeID = ctxUsr.ID
	}
	return b, filter, nil
}

// Handlers

func (api *attendanceApi) mark(ctx echo.Context) error {
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}
	var data attendance.Sheet
	if err := bindAndValidate(ctx, &data, api.validate, "Sheet"); err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	records, err := api.svc.Mark(ctx.Request().Context(), b.ID, data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "marking attendance")
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *attendanceApi) query(ctx echo.Context) error {
	_, filter, err := api.bindFilter(ctx)
	if err != nil {
		return err
	}
	records, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying attendance")
	}
	if records == nil {
		records = []attendance.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *attendanceApi) summary(ctx echo.Context) error {
	_, filter, err := api.bindFilter(ctx)
	if err != nil {
		return err
	}
	summaries, err := api.svc.Summarize(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "summarizing attendance")
	}
	return ctx.JSON(http.StatusOK, summaries)
}

func (api *attendanceApi) export(ctx echo.Context) error {
	b, filter, err := api.bindFilter(ctx)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := api.svc.ExportCSV(ctx.Request().Context(), &buf, filter); err != nil {
		return errors.Wrap(err, "exporting attendance")
	}
	filename := fmt.Sprintf("attendance-%s.csv", b.ID)
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.Blob(http.StatusOK, mimeTextCSV, buf.Bytes())
}

func (api *attendanceApi) destroy(ctx echo.Context) error {
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()
	rec, err := api.svc.GetByID(rctx, ctx.Param("recordID"))
	if err != nil {
		return errors.Wrap(err, "finding attendance record")
	}
	if rec.BatchID != b.ID {
		return errHttpNotFound
	}
	if err := api.svc.Delete(rctx, rec.ID); err != nil {
		return errors.Wrap(err, "deleting attendance record")
	}
	return ctx.NoContent(http.StatusNoContent)
}
