package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/cohortly/cohortly/core/dashboard"
	"github.com/cohortly/cohortly/core/user"
)

type dashboardApi struct {
	svc    dashboard.Service
	usrSvc user.Service
}

// registerDashboardAPI registers the dashboards; bg is the `/batches/:id` group.
func registerDashboardAPI(g, bg *echo.Group, jwt echo.MiddlewareFunc, api *dashboardApi) {
	bg.GET("/dashboard", api.batchDashboard, staffMiddleware())

	dg := g.Group("/dashboards", jwt)
	dg.GET("/overview", api.overview, adminMiddleware())
	dg.GET("/trainees/:id", api.traineeDashboard)
}

// Handlers

func (api *dashboardApi) batchDashboard(ctx echo.Context) error {
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

	board, err := api.svc.BatchDashboard(ctx.Request().Context(), b.ID)
	if err != nil {
		return errors.Wrap(err, "building batch dashboard")
	}
	return ctx.JSON(http.StatusOK, board)
}

// traineeDashboard is allowed to the trainee & the staff.
func (api *dashboardApi) traineeDashboard(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	id := ctx.Param("id")
	if id != ctxUsr.ID && !ctxUsr.IsStaff() {
		return errHttpNotFound
	}

	board, err := api.svc.TraineeDashboard(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "building trainee dashboard")
	}
	return ctx.JSON(http.StatusOK, board)
}

func (api *dashboardApi) overview(ctx echo.Context) error {
	board, err := api.svc.Overview(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "building overview")
	}
	return ctx.JSON(http.StatusOK, board)
}
