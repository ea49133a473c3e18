package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/user"
)

const contextBatchKey = "batch"

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// staffMiddleware only lets admins & trainers through.
func staffMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsStaff() {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// batchMiddleware loads the `:id` batch into the context. Batches the user cannot read are not found.
func batchMiddleware(batchSvc batch.Service, usrSvc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := getContextUser(ctx, usrSvc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			b, err := batchSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == batch.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding batch by ID")
			}
			if !canReadBatch(ctxUsr, b) {
				return errHttpNotFound
			}
			ctx.Set(contextBatchKey, b)
			return next(ctx)
		}
	}
}

func getContextBatch(ctx echo.Context) (batch.Batch, error) {
	if b, ok := ctx.Get(contextBatchKey).(batch.Batch); ok {
		return b, nil
	}
	return batch.Batch{}, errors.New("batch object not found in echo.Context")
}

// canReadBatch: admins, the batch trainer & its trainees.
func canReadBatch(usr user.User, b batch.Batch) bool {
	return canManageBatch(usr, b) || b.HasTrainee(usr.ID)
}

// canManageBatch: admins & the batch trainer may record attendance, quizzes & evaluations.
func canManageBatch(usr user.User, b batch.Batch) bool {
	return usr.IsAdmin() || (usr.IsTrainer() && b.TrainerID == usr.ID)
}

// canManageBatchIn checks access to the batch of a quiz or evaluation.
func canManageBatchIn(ctx echo.Context, batchSvc batch.Service, usr user.User, batchID string) (batch.Batch, bool, error) {
	b, err := batchSvc.GetByID(ctx.Request().Context(), batchID)
	if err != nil {
		if errors.Cause(err) == batch.ErrNotFound {
			return batch.Batch{}, false, nil
		}
		return batch.Batch{}, false, errors.Wrap(err, "finding batch by ID")
	}
	return b, canManageBatch(usr, b), nil
}
