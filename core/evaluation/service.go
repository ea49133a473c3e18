package evaluation

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/user"
)

var (
	// errors
	ErrNotFound    = errors.New("evaluation not found")
	ErrNotEnrolled = errors.New("trainee is not enrolled in the batch")
)

type (
	Repository interface {
		CreateEvaluation(ctx context.Context, ev Evaluation) (Evaluation, error)
		QueryEvaluations(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Evaluation, error)
		GetEvaluation(ctx context.Context, id string) (Evaluation, error)
		UpdateEvaluation(ctx context.Context, ev Evaluation) (Evaluation, error)
		DeleteEvaluationsByID(ctx context.Context, ids []string) (int, error)
	}

	BatchFinder interface {
		GetByID(ctx context.Context, id string) (batch.Batch, error)
	}

	Service interface {
		Create(ctx context.Context, ne NewEvaluation, evaluator user.User) (Evaluation, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Evaluation, error)
		GetByID(ctx context.Context, id string) (Evaluation, error)
		Update(ctx context.Context, id string, ue UpdateEvaluation) (Evaluation, error)
		Delete(ctx context.Context, ids ...string) error
	}

	service struct {
		repo         Repository
		batches      BatchFinder
		passingScore float64
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, batches BatchFinder, conf *core.Config) Service {
	return &service{
		repo:         repo,
		batches:      batches,
		passingScore: conf.Training.EvaluationPassingScore,
	}
}

func (svc *service) grade(ev *Evaluation) {
	ev.Overall = Overall(ev.Scores)
	ev.Passed = ev.Overall >= svc.passingScore
}

func (svc *service) Create(ctx context.Context, ne NewEvaluation, evaluator user.User) (Evaluation, error) {
	b, err := svc.batches.GetByID(ctx, ne.BatchID)
	if err != nil {
		if errors.Cause(err) == batch.ErrNotFound {
			return Evaluation{}, core.NewFieldError("batch_id", batch.ErrNotFound)
		}
		return Evaluation{}, errors.Wrap(err, "finding batch")
	}
	if !b.HasTrainee(ne.TraineeID) {
		return Evaluation{}, core.NewFieldError("trainee_id", ErrNotEnrolled)
	}

	now := time.Now().UTC()
	ev := Evaluation{
		BatchID:     b.ID,
		TraineeID:   ne.TraineeID,
		EvaluatorID: evaluator.ID,
		Kind:        ne.Kind,
		Title:       ne.Title,
		Scores:      ne.Scores,
		Comments:    ne.Comments,
		EvaluatedAt: ne.EvaluatedAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ne.EvaluatedAt.IsZero() {
		ev.EvaluatedAt = now
	}
	svc.grade(&ev)
	return svc.repo.CreateEvaluation(ctx, ev)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Evaluation, error) {
	return svc.repo.QueryEvaluations(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Evaluation, error) {
	return svc.repo.GetEvaluation(ctx, id)
}

func (svc *service) Update(ctx context.Context, id string, ue UpdateEvaluation) (Evaluation, error) {
	ev, err := svc.repo.GetEvaluation(ctx, id)
	if err != nil {
		return Evaluation{}, err
	}
	if ue.Kind != "" {
		ev.Kind = ue.Kind
	}
	if ue.Title != "" {
		ev.Title = ue.Title
	}
	if ue.Scores != nil {
		ev.Scores = ue.Scores
	}
	if ue.Comments != nil {
		ev.Comments = core.CleanString(*ue.Comments)
	}
	if !ue.EvaluatedAt.IsZero() {
		ev.EvaluatedAt = ue.EvaluatedAt.UTC()
	}
	svc.grade(&ev)
	ev.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateEvaluation(ctx, ev)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	_, err := svc.repo.DeleteEvaluationsByID(ctx, ids)
	return err
}
