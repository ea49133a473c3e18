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
	"github.com/cohortly/cohortly/core/attendance"
)

const attendanceTable = `"attendance_records"`

var attendanceColumns = []string{
	"id", "batch_id", "trainee_id", "date", "status", "remarks", "recorded_by", "created_at", "updated_at",
}

type attendanceRow struct {
	ID         string      `db:"id"`
	BatchID    string      `db:"batch_id"`
	TraineeID  string      `db:"trainee_id"`
	Date       time.Time   `db:"date"`
	Status     string      `db:"status"`
	Remarks    string      `db:"remarks"`
	RecordedBy null.String `db:"recorded_by"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
}

func (r attendanceRow) record() attendance.Record {
	return attendance.Record{
		ID:         r.ID,
		BatchID:    r.BatchID,
		TraineeID:  r.TraineeID,
		Date:       core.Date(r.Date),
		Status:     attendance.Status(r.Status),
		Remarks:    r.Remarks,
		RecordedBy: r.RecordedBy.String,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type attendanceRepository struct {
	db *sqlx.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil)

func NewAttendanceRepository(db *sqlx.DB) attendance.Repository {
	return &attendanceRepository{db: db}
}

// UpsertRecords relies on the (batch_id, trainee_id, date) unique constraint.
func (repo *attendanceRepository) UpsertRecords(ctx context.Context, records []attendance.Record) ([]attendance.Record, error) {
	saved := make([]attendance.Record, 0, len(records))
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		for _, rec := range records {
			query := psql.Insert(attendanceTable).Columns(attendanceColumns...).Values(
				uuid.NewString(), rec.BatchID, rec.TraineeID, core.Date(rec.Date), string(rec.Status), rec.Remarks,
				null.NewString(rec.RecordedBy, rec.RecordedBy != ""), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
			).Suffix(`ON CONFLICT ("batch_id", "trainee_id", "date") DO UPDATE SET
				"status" = EXCLUDED."status",
				"remarks" = EXCLUDED."remarks",
				"recorded_by" = EXCLUDED."recorded_by",
				"updated_at" = EXCLUDED."updated_at"
			RETURNING *`)

			var row attendanceRow
			if err := getRow(ctx, tx, &row, query); err != nil {
				return errors.Wrap(err, "upserting attendance record")
			}
			saved = append(saved, row.record())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (repo *attendanceRepository) QueryRecords(ctx context.Context, filter *attendance.QueryFilter) ([]attendance.Record, error) {
	query := psql.Select(attendanceColumns...).From(attendanceTable).OrderBy("date ASC", "trainee_id ASC")
	if filter != nil {
		if filter.BatchID != "" {
			query = query.Where(sq.Eq{"batch_id": filter.BatchID})
		}
		if filter.TraineeID != "" {
			query = query.Where(sq.Eq{"trainee_id": filter.TraineeID})
		}
		if len(filter.Statuses) > 0 {
			query = query.Where(sq.Eq{"status": filter.Statuses})
		}
		if !filter.From.IsZero() {
			query = query.Where(sq.GtOrEq{"date": core.Date(filter.From)})
		}
		if !filter.To.IsZero() {
			query = query.Where(sq.LtOrEq{"date": core.Date(filter.To)})
		}
	}

	var rows []attendanceRow
	if err := selectRows(ctx, repo.db, &rows, query); err != nil {
		return nil, errors.Wrap(err, "querying attendance records")
	}
	records := make([]attendance.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.record())
	}
	return records, nil
}

func (repo *attendanceRepository) GetRecord(ctx context.Context, id string) (attendance.Record, error) {
	if !isUUID(id) {
		return attendance.Record{}, attendance.ErrNotFound
	}
	var row attendanceRow
	query := psql.Select(attendanceColumns...).From(attendanceTable).Where(sq.Eq{"id": id})
	if err := getRow(ctx, repo.db, &row, query); err != nil {
		return attendance.Record{}, trapNoRowsErr(err, attendance.ErrNotFound, "finding attendance record")
	}
	return row.record(), nil
}

func (repo *attendanceRepository) DeleteRecordsByID(ctx context.Context, ids []string) (int, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	cnt, err := execQuery(ctx, repo.db, psql.Delete(attendanceTable).Where(sq.Eq{"id": ids}))
	if err != nil {
		return 0, errors.Wrap(err, "deleting attendance records")
	}
	return cnt, nil
}
