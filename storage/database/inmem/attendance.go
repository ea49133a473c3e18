package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/attendance"
)

var attendanceOrderings = map[string]comparator[attendance.Record]{
	"date":       func(a, b attendance.Record) int { return compareTimes(a.Date, b.Date) },
	"trainee_id": func(a, b attendance.Record) int { return compareFolded(a.TraineeID, b.TraineeID) },
}

type attendanceRepository struct {
	db *table[attendance.Record]
}

var _ attendance.Repository = (*attendanceRepository)(nil)

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{db: db.attendance}
}

func (repo *attendanceRepository) UpsertRecords(ctx context.Context, records []attendance.Record) ([]attendance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	saved := make([]attendance.Record, 0, len(records))
	for _, rec := range records {
		rec.Date = core.Date(rec.Date)
		for id, existing := range repo.db.rows {
			if existing.BatchID == rec.BatchID && existing.TraineeID == rec.TraineeID && existing.Date.Equal(rec.Date) {
				rec.ID = id
				rec.CreatedAt = existing.CreatedAt
				break
			}
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		repo.db.rows[rec.ID] = rec
		saved = append(saved, rec)
	}
	return saved, nil
}

func (repo *attendanceRepository) QueryRecords(ctx context.Context, filter *attendance.QueryFilter) ([]attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	records := repo.db.all(func(rec attendance.Record) bool {
		if filter == nil {
			return true
		}
		if filter.BatchID != "" && rec.BatchID != filter.BatchID {
			return false
		}
		if filter.TraineeID != "" && rec.TraineeID != filter.TraineeID {
			return false
		}
		if len(filter.Statuses) > 0 && !core.ContainsString(filter.Statuses, string(rec.Status)) {
			return false
		}
		from, to := filter.From, filter.To
		if !from.IsZero() {
			from = core.Date(from)
		}
		if !to.IsZero() {
			to = core.Date(to)
		}
		return inRange(rec.Date, from, to)
	})
	orderBy(records, nil, attendanceOrderings,
		core.DBOrdering{Field: "date", Ascending: true}, core.DBOrdering{Field: "trainee_id", Ascending: true})
	return records, nil
}

func (repo *attendanceRepository) GetRecord(ctx context.Context, id string) (attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if rec, ok := repo.db.rows[id]; ok {
		return rec, nil
	}
	return attendance.Record{}, attendance.ErrNotFound
}

func (repo *attendanceRepository) DeleteRecordsByID(ctx context.Context, ids []string) (int, error) {
	return repo.db.deleteIDs(ids), nil
}
