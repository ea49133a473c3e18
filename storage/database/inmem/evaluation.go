package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/evaluation"
)

var evaluationOrderings = map[string]comparator[evaluation.Evaluation]{
	"evaluated_at": func(a, b evaluation.Evaluation) int { return compareTimes(a.EvaluatedAt, b.EvaluatedAt) },
	"overall": func(a, b evaluation.Evaluation) int {
		return compareInts(int(a.Overall*100), int(b.Overall*100))
	},
	"title":      func(a, b evaluation.Evaluation) int { return compareFolded(a.Title, b.Title) },
	"created_at": func(a, b evaluation.Evaluation) int { return compareTimes(a.CreatedAt, b.CreatedAt) },
}

type evaluationRepository struct {
	db *table[evaluation.Evaluation]
}

var _ evaluation.Repository = (*evaluationRepository)(nil)

func NewEvaluationRepository(db *DB) evaluation.Repository {
	return &evaluationRepository{db: db.evaluation}
}

func copyEvaluation(ev evaluation.Evaluation) evaluation.Evaluation {
	ev.Scores = append([]evaluation.Score{}, ev.Scores...)
	return ev
}

func (repo *evaluationRepository) CreateEvaluation(ctx context.Context, ev evaluation.Evaluation) (evaluation.Evaluation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ev.ID = uuid.NewString()
	repo.db.rows[ev.ID] = copyEvaluation(ev)
	return ev, nil
}

func (repo *evaluationRepository) QueryEvaluations(ctx context.Context, filter *evaluation.QueryFilter, ordering []core.DBOrdering) ([]evaluation.Evaluation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	evals := repo.db.all(func(ev evaluation.Evaluation) bool {
		if filter == nil {
			return true
		}
		if filter.BatchIDs != nil && !core.ContainsString(filter.BatchIDs, ev.BatchID) {
			return false
		}
		if filter.TraineeID != "" && ev.TraineeID != filter.TraineeID {
			return false
		}
		if filter.EvaluatorID != "" && ev.EvaluatorID != filter.EvaluatorID {
			return false
		}
		if len(filter.Kinds) > 0 && !core.ContainsString(filter.Kinds, string(ev.Kind)) {
			return false
		}
		if filter.Passed != nil && ev.Passed != *filter.Passed {
			return false
		}
		return inRange(ev.EvaluatedAt, filter.From, filter.To)
	})
	for i := range evals {
		evals[i] = copyEvaluation(evals[i])
	}
	orderBy(evals, ordering, evaluationOrderings, core.DBOrdering{Field: "evaluated_at"})
	return evals, nil
}

func (repo *evaluationRepository) GetEvaluation(ctx context.Context, id string) (evaluation.Evaluation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ev, ok := repo.db.rows[id]; ok {
		return copyEvaluation(ev), nil
	}
	return evaluation.Evaluation{}, evaluation.ErrNotFound
}

func (repo *evaluationRepository) UpdateEvaluation(ctx context.Context, ev evaluation.Evaluation) (evaluation.Evaluation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[ev.ID]; !ok {
		return evaluation.Evaluation{}, evaluation.ErrNotFound
	}
	repo.db.rows[ev.ID] = copyEvaluation(ev)
	return ev, nil
}

func (repo *evaluationRepository) DeleteEvaluationsByID(ctx context.Context, ids []string) (int, error) {
	return repo.db.deleteIDs(ids), nil
}
