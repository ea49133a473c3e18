package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/evaluation"
)

const evaluationsTable = `"evaluations"`

var (
	evaluationColumns = []string{
		"id", "batch_id", "trainee_id", "evaluator_id", "kind", "title", "scores", "overall", "passed", "comments",
		"evaluated_at", "created_at", "updated_at",
	}
	evaluationOrderings = map[string]string{
		"evaluated_at": "evaluated_at",
		"overall":      "overall",
		"title":        "title",
		"created_at":   "created_at",
	}
)

type evaluationRow struct {
	ID          string         `db:"id"`
	BatchID     string         `db:"batch_id"`
	TraineeID   string         `db:"trainee_id"`
	EvaluatorID null.String    `db:"evaluator_id"`
	Kind        string         `db:"kind"`
	Title       string         `db:"title"`
	Scores      types.JSONText `db:"scores"`
	Overall     float64        `db:"overall"`
	Passed      bool           `db:"passed"`
	Comments    string         `db:"comments"`
	EvaluatedAt time.Time      `db:"evaluated_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r evaluationRow) evaluation() (evaluation.Evaluation, error) {
	ev := evaluation.Evaluation{
		ID:          r.ID,
		BatchID:     r.BatchID,
		TraineeID:   r.TraineeID,
		EvaluatorID: r.EvaluatorID.String,
		Kind:        evaluation.Kind(r.Kind),
		Title:       r.Title,
		Overall:     r.Overall,
		Passed:      r.Passed,
		Comments:    r.Comments,
		EvaluatedAt: r.EvaluatedAt.UTC(),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if err := r.Scores.Unmarshal(&ev.Scores); err != nil {
		return evaluation.Evaluation{}, errors.Wrap(err, "decoding scores")
	}
	return ev, nil
}

func evaluationValues(ev evaluation.Evaluation) (map[string]interface{}, error) {
	scores := ev.Scores
	if scores == nil {
		scores = []evaluation.Score{}
	}
	data, err := json.Marshal(scores)
	if err != nil {
		return nil, errors.Wrap(err, "encoding scores")
	}
	return map[string]interface{}{
		"batch_id":     ev.BatchID,
		"trainee_id":   ev.TraineeID,
		"evaluator_id": null.NewString(ev.EvaluatorID, ev.EvaluatorID != ""),
		"kind":         string(ev.Kind),
		"title":        ev.Title,
		"scores":       types.JSONText(data),
		"overall":      ev.Overall,
		"passed":       ev.Passed,
		"comments":     ev.Comments,
		"evaluated_at": ev.EvaluatedAt.UTC(),
		"updated_at":   ev.UpdatedAt.UTC(),
	}, nil
}

type evaluationRepository struct {
	db *sqlx.DB
}

var _ evaluation.Repository = (*evaluationRepository)(nil)

func NewEvaluationRepository(db *sqlx.DB) evaluation.Repository {
	return &evaluationRepository{db: db}
}

func (repo *evaluationRepository) CreateEvaluation(ctx context.Context, ev evaluation.Evaluation) (evaluation.Evaluation, error) {
	ev.ID = uuid.NewString()
	values, err := evaluationValues(ev)
	if err != nil {
		return evaluation.Evaluation{}, err
	}
	values["id"] = ev.ID
	values["created_at"] = ev.CreatedAt.UTC()

	if _, err := execQuery(ctx, repo.db, psql.Insert(evaluationsTable).SetMap(values)); err != nil {
		return evaluation.Evaluation{}, errors.Wrap(err, "inserting evaluation")
	}
	return ev, nil
}

func evaluationFilter(query sq.SelectBuilder, filter *evaluation.QueryFilter) sq.SelectBuilder {
	if filter == nil {
		return query
	}
	if filter.BatchIDs != nil {
		query = query.Where(sq.Eq{"batch_id": validUUIDs(filter.BatchIDs)})
	}
	if filter.TraineeID != "" {
		query = query.Where(sq.Eq{"trainee_id": filter.TraineeID})
	}
	if filter.EvaluatorID != "" {
		query = query.Where(sq.Eq{"evaluator_id": filter.EvaluatorID})
	}
	if len(filter.Kinds) > 0 {
		query = query.Where(sq.Eq{"kind": filter.Kinds})
	}
	if filter.Passed != nil {
		query = query.Where(sq.Eq{"passed": *filter.Passed})
	}
	if !filter.From.IsZero() {
		query = query.Where(sq.GtOrEq{"evaluated_at": filter.From.UTC()})
	}
	if !filter.To.IsZero() {
		query = query.Where(sq.LtOrEq{"evaluated_at": filter.To.UTC()})
	}
	return query
}

func (repo *evaluationRepository) QueryEvaluations(ctx context.Context, filter *evaluation.QueryFilter, ordering []core.DBOrdering) ([]evaluation.Evaluation, error) {
	query := evaluationFilter(psql.Select(evaluationColumns...).From(evaluationsTable), filter)
	query = orderBy(query, ordering, evaluationOrderings, "evaluated_at DESC")

	var rows []evaluationRow
	if err := selectRows(ctx, repo.db, &rows, query); err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}
	evals := make([]evaluation.Evaluation, 0, len(rows))
	for _, r := range rows {
		ev, err := r.evaluation()
		if err != nil {
			return nil, err
		}
		evals = append(evals, ev)
	}
	return evals, nil
}

func (repo *evaluationRepository) GetEvaluation(ctx context.Context, id string) (evaluation.Evaluation, error) {
	if !isUUID(id) {
		return evaluation.Evaluation{}, evaluation.ErrNotFound
	}
	var row evaluationRow
	query := psql.Select(evaluationColumns...).From(evaluationsTable).Where(sq.Eq{"id": id})
	if err := getRow(ctx, repo.db, &row, query); err != nil {
		return evaluation.Evaluation{}, trapNoRowsErr(err, evaluation.ErrNotFound, "finding evaluation")
	}
	return row.evaluation()
}

func (repo *evaluationRepository) UpdateEvaluation(ctx context.Context, ev evaluation.Evaluation) (evaluation.Evaluation, error) {
	values, err := evaluationValues(ev)
	if err != nil {
		return evaluation.Evaluation{}, err
	}
	cnt, err := execQuery(ctx, repo.db, psql.Update(evaluationsTable).SetMap(values).Where(sq.Eq{"id": ev.ID}))
	if err != nil {
		return evaluation.Evaluation{}, errors.Wrap(err, "updating evaluation")
	}
	if cnt == 0 {
		return evaluation.Evaluation{}, evaluation.ErrNotFound
	}
	return ev, nil
}

func (repo *evaluationRepository) DeleteEvaluationsByID(ctx context.Context, ids []string) (int, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	cnt, err := execQuery(ctx, repo.db, psql.Delete(evaluationsTable).Where(sq.Eq{"id": ids}))
	if err != nil {
		return 0, errors.Wrap(err, "deleting evaluations")
	}
	return cnt, nil
}
