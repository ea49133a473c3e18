package attendance

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/user"
)

var (
	// errors
	ErrNotFound        = errors.New("attendance record not found")
	ErrOutOfBatchDates = errors.New("date is outside of the batch dates")
	ErrNotEnrolled     = errors.New("trainee is not enrolled in the batch")

	csvHeader = []string{"date", "trainee_id", "trainee_name", "status", "remarks", "recorded_by"}
)

type (
	Repository interface {
		// UpsertRecords creates the records or updates the existing ones for the same (batch, trainee, date).
		UpsertRecords(ctx context.Context, records []Record) ([]Record, error)
		// QueryRecords returns records ordered by date, then trainee.
		QueryRecords(ctx context.Context, filter *QueryFilter) ([]Record, error)
		GetRecord(ctx context.Context, id string) (Record, error)
		DeleteRecordsByID(ctx context.Context, ids []string) (int, error)
	}

	BatchFinder interface {
		GetByID(ctx context.Context, id string) (batch.Batch, error)
	}

	UserFinder interface {
		Query(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error)
	}

	Service interface {
		// Mark records the attendance sheet of the batch.
		Mark(ctx context.Context, batchID string, sheet Sheet, recorder user.User) ([]Record, error)
		Query(ctx context.Context, filter *QueryFilter) ([]Record, error)
		GetByID(ctx context.Context, id string) (Record, error)
		Delete(ctx context.Context, ids ...string) error
		// Summarize aggregates matching records per trainee, ordered by trainee ID.
		Summarize(ctx context.Context, filter *QueryFilter) ([]Summary, error)
		ExportCSV(ctx context.Context, w io.Writer, filter *QueryFilter) error
	}

	service struct {
		repo    Repository
		batches BatchFinder
		users   UserFinder
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, batches BatchFinder, users UserFinder) Service {
	return &service{
		repo:    repo,
		batches: batches,
		users:   users,
	}
}

func (svc *service) Mark(ctx context.Context, batchID string, sheet Sheet, recorder user.User) ([]Record, error) {
	b, err := svc.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status == batch.StatusCancelled {
		return nil, core.NewFieldError("batch_id", batch.ErrBatchClosed)
	}
	date := core.Date(sheet.Date)
	if !b.Covers(date) {
		return nil, core.NewFieldError("date", ErrOutOfBatchDates)
	}

	now := time.Now().UTC()
	records := make([]Record, 0, len(sheet.Entries))
	seen := make(map[string]int, len(sheet.Entries))
	var fields []core.FieldError
	for _, e := range sheet.Entries {
		if !b.HasTrainee(e.TraineeID) {
			fields = append(fields, core.FieldError{Field: "entries." + e.TraineeID, Error: ErrNotEnrolled.Error()})
			continue
		}
		rec := Record{
			BatchID:    b.ID,
			TraineeID:  e.TraineeID,
			Date:       date,
			Status:     e.Status,
			Remarks:    e.Remarks,
			RecordedBy: recorder.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		// the last entry wins for a trainee listed twice
		if i, ok := seen[e.TraineeID]; ok {
			records[i] = rec
			continue
		}
		seen[e.TraineeID] = len(records)
		records = append(records, rec)
	}
	if len(fields) > 0 {
		return nil, core.NewValidationError(nil, fields...)
	}
	return svc.repo.UpsertRecords(ctx, records)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter) ([]Record, error) {
	return svc.repo.QueryRecords(ctx, filter)
}

func (svc *service) GetByID(ctx context.Context, id string) (Record, error) {
	return svc.repo.GetRecord(ctx, id)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	_, err := svc.repo.DeleteRecordsByID(ctx, ids)
	return err
}

func (svc *service) Summarize(ctx context.Context, filter *QueryFilter) ([]Summary, error) {
	records, err := svc.repo.QueryRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Summarize(records), nil
}

// Summarize aggregates records per trainee, ordered by trainee ID.
func Summarize(records []Record) []Summary {
	byTrainee := make(map[string]*Summary)
	for _, rec := range records {
		s, ok := byTrainee[rec.TraineeID]
		if !ok {
			s = &Summary{TraineeID: rec.TraineeID}
			byTrainee[rec.TraineeID] = s
		}
		s.add(rec.Status)
	}

	summaries := make([]Summary, 0, len(byTrainee))
	for _, s := range byTrainee {
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].TraineeID < summaries[j].TraineeID })
	return summaries
}

func (svc *service) ExportCSV(ctx context.Context, w io.Writer, filter *QueryFilter) error {
	records, err := svc.repo.QueryRecords(ctx, filter)
	if err != nil {
		return err
	}

	names := make(map[string]string)
	if len(records) > 0 {
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			if _, ok := names[rec.TraineeID]; !ok {
				names[rec.TraineeID] = ""
				ids = append(ids, rec.TraineeID)
			}
		}
		trainees, err := svc.users.Query(ctx, &user.QueryFilter{IDs: ids}, nil)
		if err != nil {
			return errors.Wrap(err, "querying trainees")
		}
		for _, t := range trainees {
			names[t.ID] = t.Name
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, rec := range records {
		row := []string{
			rec.Date.Format("2006-01-02"),
			rec.TraineeID,
			names[rec.TraineeID],
			string(rec.Status),
			rec.Remarks,
			rec.RecordedBy,
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "writing csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}
