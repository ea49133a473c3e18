package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/batch"
)

const (
	batchesTable       = `"batches"`
	batchTraineesTable = `"batch_trainees"`
)

var (
	batchColumns = []string{
		"id", "name", "program", "trainer_id", "status", "capacity", "start_date", "end_date", "created_at", "updated_at",
	}
	batchOrderings = map[string]string{
		"name":       "name",
		"program":    "program",
		"status":     "status",
		"start_date": "start_date",
		"end_date":   "end_date",
		"created_at": "created_at",
	}
)

type batchRow struct {
	ID        string      `db:"id"`
	Name      string      `db:"name"`
	Program   string      `db:"program"`
	TrainerID null.String `db:"trainer_id"`
	Status    string      `db:"status"`
	Capacity  int         `db:"capacity"`
	StartDate time.Time   `db:"start_date"`
	EndDate   time.Time   `db:"end_date"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

func (r batchRow) batch(traineeIDs []string) batch.Batch {
	if traineeIDs == nil {
		traineeIDs = []string{}
	}
	return batch.Batch{
		ID:         r.ID,
		Name:       r.Name,
		Program:    r.Program,
		TrainerID:  r.TrainerID.String,
		Status:     batch.Status(r.Status),
		Capacity:   r.Capacity,
		StartDate:  core.Date(r.StartDate),
		EndDate:    core.Date(r.EndDate),
		TraineeIDs: traineeIDs,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type batchRepository struct {
	db *sqlx.DB
}

var _ batch.Repository = (*batchRepository)(nil)

func NewBatchRepository(db *sqlx.DB) batch.Repository {
	return &batchRepository{db: db}
}

func (repo *batchRepository) CheckNameUniqueness(ctx context.Context, name string, excluded []batch.Batch) error {
	query := psql.Select("COUNT(*)").From(batchesTable).Where(sq.Expr("LOWER(name) = LOWER(?)", name))
	if len(excluded) > 0 {
		ids := make([]string, 0, len(excluded))
		for _, b := range excluded {
			ids = append(ids, b.ID)
		}
		query = query.Where(sq.NotEq{"id": validUUIDs(ids)})
	}

	var count int
	if err := getRow(ctx, repo.db, &count, query); err != nil {
		return errors.Wrap(err, "checking batch name uniqueness")
	}
	if count > 0 {
		return batch.ErrNameExists
	}
	return nil
}

func (repo *batchRepository) CreateBatch(ctx context.Context, b batch.Batch) (batch.Batch, error) {
	b.ID = uuid.NewString()
	query := psql.Insert(batchesTable).Columns(batchColumns...).Values(
		b.ID, b.Name, b.Program, null.NewString(b.TrainerID, b.TrainerID != ""), string(b.Status), b.Capacity,
		b.StartDate, b.EndDate, b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	if _, err := execQuery(ctx, repo.db, query); err != nil {
		return batch.Batch{}, errors.Wrap(err, "inserting batch")
	}
	return b, nil
}

func batchFilter(query sq.SelectBuilder, filter *batch.QueryFilter) sq.SelectBuilder {
	if filter == nil {
		return query
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		query = query.Where(sq.Or{sq.ILike{"name": val}, sq.ILike{"program": val}})
	}
	if len(filter.Statuses) > 0 {
		query = query.Where(sq.Eq{"status": filter.Statuses})
	}
	if filter.TrainerID != "" {
		query = query.Where(sq.Eq{"trainer_id": filter.TrainerID})
	}
	if filter.TraineeID != "" {
		sub := psql.Select("batch_id").From(batchTraineesTable).Where(sq.Eq{"trainee_id": filter.TraineeID})
		subQuery, args, _ := sub.PlaceholderFormat(sq.Question).ToSql()
		query = query.Where(sq.Expr("id IN ("+subQuery+")", args...))
	}
	if !filter.ActiveOn.IsZero() {
		day := core.Date(filter.ActiveOn)
		query = query.Where(sq.And{
			sq.LtOrEq{"start_date": day},
			sq.GtOrEq{"end_date": day},
			sq.NotEq{"status": []string{string(batch.StatusCompleted), string(batch.StatusCancelled)}},
		})
	}
	return query
}

// trainees returns the trainee IDs of the batches, by batch ID.
func (repo *batchRepository) trainees(ctx context.Context, batchIDs []string) (map[string][]string, error) {
	byBatch := make(map[string][]string, len(batchIDs))
	if len(batchIDs) == 0 {
		return byBatch, nil
	}
	var rows []struct {
		BatchID   string `db:"batch_id"`
		TraineeID string `db:"trainee_id"`
	}
	query := psql.Select("batch_id", "trainee_id").From(batchTraineesTable).
		Where(sq.Eq{"batch_id": batchIDs}).
		OrderBy("enrolled_at")
	if err := selectRows(ctx, repo.db, &rows, query); err != nil {
		return nil, errors.Wrap(err, "querying batch trainees")
	}
	for _, r := range rows {
		byBatch[r.BatchID] = append(byBatch[r.BatchID], r.TraineeID)
	}
	return byBatch, nil
}

func (repo *batchRepository) QueryBatches(ctx context.Context, filter *batch.QueryFilter, ordering []core.DBOrdering) ([]batch.Batch, error) {
	query := batchFilter(psql.Select(batchColumns...).From(batchesTable), filter)
	query = orderBy(query, ordering, batchOrderings, "start_date DESC", "name ASC")

	var rows []batchRow
	if err := selectRows(ctx, repo.db, &rows, query); err != nil {
		return nil, errors.Wrap(err, "querying batches")
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	trainees, err := repo.trainees(ctx, ids)
	if err != nil {
		return nil, err
	}

	batches := make([]batch.Batch, 0, len(rows))
	for _, r := range rows {
		batches = append(batches, r.batch(trainees[r.ID]))
	}
	return batches, nil
}

func (repo *batchRepository) GetBatch(ctx context.Context, id string) (batch.Batch, error) {
	if !isUUID(id) {
		return batch.Batch{}, batch.ErrNotFound
	}
	var row batchRow
	query := psql.Select(batchColumns...).From(batchesTable).Where(sq.Eq{"id": id})
	if err := getRow(ctx, repo.db, &row, query); err != nil {
		return batch.Batch{}, trapNoRowsErr(err, batch.ErrNotFound, "finding batch")
	}
	trainees, err := repo.trainees(ctx, []string{id})
	if err != nil {
		return batch.Batch{}, err
	}
	return row.batch(trainees[id]), nil
}

// UpdateBatch saves every field but the trainees, which change through AddTrainees & RemoveTrainees.
func (repo *batchRepository) UpdateBatch(ctx context.Context, b batch.Batch) (batch.Batch, error) {
	query := psql.Update(batchesTable).SetMap(map[string]interface{}{
		"name":       b.Name,
		"program":    b.Program,
		"trainer_id": null.NewString(b.TrainerID, b.TrainerID != ""),
		"status":     string(b.Status),
		"capacity":   b.Capacity,
		"start_date": b.StartDate,
		"end_date":   b.EndDate,
		"updated_at": b.UpdatedAt.UTC(),
	}).Where(sq.Eq{"id": b.ID})

	cnt, err := execQuery(ctx, repo.db, query)
	if err != nil {
		return batch.Batch{}, errors.Wrap(err, "updating batch")
	}
	if cnt == 0 {
		return batch.Batch{}, batch.ErrNotFound
	}
	return repo.GetBatch(ctx, b.ID)
}

func (repo *batchRepository) DeleteBatchesByID(ctx context.Context, ids []string) (int, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	cnt, err := execQuery(ctx, repo.db, psql.Delete(batchesTable).Where(sq.Eq{"id": ids}))
	if err != nil {
		return 0, errors.Wrap(err, "deleting batches")
	}
	return cnt, nil
}

// AddTrainees locks the batch row so concurrent enrollments are counted against the capacity one at a time.
func (repo *batchRepository) AddTrainees(ctx context.Context, batchID string, traineeIDs []string) error {
	if len(traineeIDs) == 0 {
		return nil
	}
	if !isUUID(batchID) {
		return batch.ErrNotFound
	}
	return inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var capacity int
		if err := getRow(ctx, tx, &capacity, lockBatchQuery(batchID)); err != nil {
			return trapNoRowsErr(err, batch.ErrNotFound, "locking batch")
		}

		now := time.Now().UTC()
		query := psql.Insert(batchTraineesTable).Columns("batch_id", "trainee_id", "enrolled_at")
		for _, tid := range traineeIDs {
			query = query.Values(batchID, tid, now)
		}
		query = query.Suffix("ON CONFLICT DO NOTHING")
		if _, err := execQuery(ctx, tx, query); err != nil {
			return errors.Wrap(err, "inserting batch trainees")
		}
		if capacity == 0 {
			return nil
		}

		var enrolled int
		if err := getRow(ctx, tx, &enrolled, enrolledCountQuery(batchID)); err != nil {
			return errors.Wrap(err, "counting batch trainees")
		}
		if enrolled > capacity {
			return batch.ErrCapacityExceeded
		}
		return nil
	})
}

func lockBatchQuery(batchID string) sq.SelectBuilder {
	return psql.Select("capacity").From(batchesTable).Where(sq.Eq{"id": batchID}).Suffix("FOR UPDATE")
}

func enrolledCountQuery(batchID string) sq.SelectBuilder {
	return psql.Select("COUNT(*)").From(batchTraineesTable).Where(sq.Eq{"batch_id": batchID})
}

func (repo *batchRepository) RemoveTrainees(ctx context.Context, batchID string, traineeIDs []string) error {
	traineeIDs = validUUIDs(traineeIDs)
	if len(traineeIDs) == 0 {
		return nil
	}
	query := psql.Delete(batchTraineesTable).Where(sq.Eq{"batch_id": batchID, "trainee_id": traineeIDs})
	_, err := execQuery(ctx, repo.db, query)
	return errors.Wrap(err, "deleting batch trainees")
}
