package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/quiz"
	"github.com/cohortly/cohortly/core/user"
)

const contextQuizKey = "quiz"

type quizApi struct {
	svc      quiz.Service
	batchSvc batch.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerQuizAPI(g *echo.Group, jwt echo.MiddlewareFunc, api *quizApi) {
	qg := g.Group("/quizzes", jwt)
	qg.GET("", api.query)
	qg.POST("", api.create, staffMiddleware())

	// detail endpoints
	dg := qg.Group("/:id", api.quizMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, api.managerMiddleware)
	dg.DELETE("", api.destroy, api.managerMiddleware)
	dg.POST("/publish", api.publish, api.managerMiddleware)
	dg.GET("/preview", api.preview, api.managerMiddleware)
	dg.POST("/attempts", api.startAttempt)
	dg.GET("/attempts", api.queryAttempts)

	ag := g.Group("/attempts/:id", jwt)
	ag.GET("", api.retrieveAttempt)
	ag.POST("/submit", api.submitAttempt)
}

// quizMiddleware loads the `:id` quiz & its batch into the context.
// Quizzes of batches the user cannot read, and unpublished quizzes for trainees, are not found.
func (api *quizApi) quizMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		ctxUsr, err := getContextUser(ctx, api.usrSvc)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}
		rctx := ctx.Request().Context()
		qz, err := api.svc.GetByID(rctx, ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == quiz.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding quiz by ID")
		}
		b, err := api.batchSvc.GetByID(rctx, qz.BatchID)
		if err != nil {
			if errors.Cause(err) == batch.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding batch by ID")
		}
		if !canReadBatch(ctxUsr, b) || (!canManageBatch(ctxUsr, b) && !qz.IsPublished) {
			return errHttpNotFound
		}
		ctx.Set(contextQuizKey, qz)
		ctx.Set(contextBatchKey, b)
		return next(ctx)
	}
}

// managerMiddleware only lets through the users managing the batch of the context quiz.
func (api *quizApi) managerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
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

func getContextQuiz(ctx echo.Context) (quiz.Quiz, error) {
	if qz, ok := ctx.Get(contextQuizKey).(quiz.Quiz); ok {
		return qz, nil
	}
	return quiz.Quiz{}, errors.New("quiz object not found in echo.Context")
}

// scopeBatchIDs restricts the requested batch IDs to the batches the user can read.
// An empty result means there is nothing to look up.
func scopeBatchIDs(requested, allowed []string) []string {
	if len(requested) == 0 {
		return allowed
	}
	scoped := make([]string, 0, len(requested))
	for _, id := range requested {
		if core.ContainsString(allowed, id) {
			scoped = append(scoped, id)
		}
	}
	return scoped
}

// Handlers

func (api *quizApi) create(ctx echo.Context) error {
	var data quiz.NewQuiz
	if err := bindAndValidate(ctx, &data, api.validate, "NewQuiz"); err != nil {
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

	qz, err := api.svc.Create(ctx.Request().Context(), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "creating quiz")
	}
	return ctx.JSON(http.StatusCreated, qz)
}

// query lists the quizzes of the batches the user can read. Trainees only see published quizzes.
func (api *quizApi) query(ctx echo.Context) error {
	filter := new(quiz.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Clean()

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		bFilter := &batch.QueryFilter{TraineeID: ctxUsr.ID}
		if ctxUsr.IsTrainer() {
			bFilter = &batch.QueryFilter{TrainerID: ctxUsr.ID}
		} else {
			published := true
			filter.IsPublished = &published
		}
		batches, err := api.batchSvc.Query(ctx.Request().Context(), bFilter, nil)
		if err != nil {
			return errors.Wrap(err, "querying batches")
		}
		allowed := make([]string, len(batches))
		for i, b := range batches {
			allowed[i] = b.ID
		}
		if filter.BatchIDs = scopeBatchIDs(filter.BatchIDs, allowed); len(filter.BatchIDs) == 0 {
			return ctx.JSON(http.StatusOK, []quiz.Quiz{})
		}
	}

	quizzes, err := api.svc.Query(ctx.Request().Context(), filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying quizzes")
	}
	if quizzes == nil {
		quizzes = []quiz.Quiz{}
	}
	return ctx.JSON(http.StatusOK, quizzes)
}

// retrieve hides the questions from the users who do not manage the quiz batch.
func (api *quizApi) retrieve(ctx echo.Context) error {
	qz, err := getContextQuiz(ctx)
	if err != nil {
		return err
	}
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !canManageBatch(ctxUsr, b) {
		qz.Questions = nil
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) update(ctx echo.Context) error {
	qz, err := getContextQuiz(ctx)
	if err != nil {
		return err
	}
	var data quiz.UpdateQuiz
	if err := bindAndValidate(ctx, &data, api.validate, "UpdateQuiz"); err != nil {
		return err
	}

	qz, err = api.svc.Update(ctx.Request().Context(), qz.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) destroy(ctx echo.Context) error {
	qz, err := getContextQuiz(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), qz.ID); err != nil {
		return errors.Wrap(err, "deleting quiz")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *quizApi) publish(ctx echo.Context) error {
	qz, err := getContextQuiz(ctx)
	if err != nil {
		return err
	}
	qz, err = api.svc.Publish(ctx.Request().Context(), qz.ID)
	if err != nil {
		return errors.Wrap(err, "publishing quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

// preview shows the quiz as delivered to `?user_id=` (default: the context user) on `?date=` (default: today).
func (api *quizApi) preview(ctx echo.Context) error {
	qz, err := getContextQuiz(ctx)
	if err != nil {
		return err
	}
	var params PreviewParams
	if err := ctx.Bind(&params); err != nil {
		return errors.Wrap(err, "binding to PreviewParams")
	}
	if params.UserID == "" {
		ctxUsr, err := getContextUser(ctx, api.usrSvc)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}
		params.UserID = ctxUsr.ID
	}
	if params.Date.IsZero() {
		params.Date = time.Now().UTC()
	}

	delivered, err := api.svc.Preview(ctx.Request().Context(), qz.ID, params.UserID, params.Date)
	if err != nil {
		return errors.Wrap(err, "previewing quiz")
	}
	return ctx.JSON(http.StatusOK, delivered)
}

func (api *quizApi) startAttempt(ctx echo.Context) error {
	qz, err := getContextQuiz(ctx)
	if err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	delivery, err := api.svc.StartAttempt(ctx.Request().Context(), qz.ID, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "starting attempt")
	}
	return ctx.JSON(http.StatusOK, delivery)
}

// queryAttempts lists all the attempts for the batch managers, the user's own ones otherwise.
func (api *quizApi) queryAttempts(ctx echo.Context) error {
	qz, err := getContextQuiz(ctx)
	if err != nil {
		return err
	}
	b, err := getContextBatch(ctx)
	if err != nil {
		return err
	}
	filter := new(quiz.AttemptFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to AttemptFilter")
	}
	filter.QuizID = qz.ID

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !canManageBatch(ctxUsr, b) {
		filter.UserID = ctxUsr.ID
	}

	attempts, err := api.svc.QueryAttempts(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying attempts")
	}
	if attempts == nil {
		attempts = []quiz.Attempt{}
	}
	return ctx.JSON(http.StatusOK, attempts)
}

// retrieveAttempt is allowed to the attempt owner & the managers of the quiz batch.
func (api *quizApi) retrieveAttempt(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	rctx := ctx.Request().Context()
	a, err := api.svc.GetAttempt(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding attempt")
	}
	if a.UserID != ctxUsr.ID {
		qz, err := api.svc.GetByID(rctx, a.QuizID)
		if err != nil {
			return errors.Wrap(err, "finding quiz")
		}
		_, ok, err := canManageBatchIn(ctx, api.batchSvc, ctxUsr, qz.BatchID)
		if err != nil {
			return err
		}
		if !ok {
			return errHttpNotFound
		}
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *quizApi) submitAttempt(ctx echo.Context) error {
	var data quiz.Submission
	if err := bindAndValidate(ctx, &data, api.validate, "Submission"); err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	a, err := api.svc.SubmitAttempt(ctx.Request().Context(), ctx.Param("id"), ctxUsr, data)
	if err != nil {
		return errors.Wrap(err, "submitting attempt")
	}
	return ctx.JSON(http.StatusOK, a)
}

type PreviewParams struct {
	UserID string    `query:"user_id"`
	Date   time.Time `query:"date"`
}
