package inmemdb

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/batch"
)

var batchOrderings = map[string]comparator[batch.Batch]{
	"name":       func(a, b batch.Batch) int { return compareFolded(a.Name, b.Name) },
	"program":    func(a, b batch.Batch) int { return compareFolded(a.Program, b.Program) },
	"status":     func(a, b batch.Batch) int { return strings.Compare(string(a.Status), string(b.Status)) },
	"start_date": func(a, b batch.Batch) int { return compareTimes(a.StartDate, b.StartDate) },
	"end_date":   func(a, b batch.Batch) int { return compareTimes(a.EndDate, b.EndDate) },
	"created_at": func(a, b batch.Batch) int { return compareTimes(a.CreatedAt, b.CreatedAt) },
}

type batchRepository struct {
	db *table[batch.Batch]
}

var _ batch.Repository = (*batchRepository)(nil)

func NewBatchRepository(db *DB) batch.Repository {
	return &batchRepository{db: db.batch}
}

func copyBatch(b batch.Batch) batch.Batch {
	b.TraineeIDs = append([]string{}, b.TraineeIDs...)
	return b
}

func (repo *batchRepository) CheckNameUniqueness(ctx context.Context, name string, excluded []batch.Batch) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, b := range repo.db.rows {
		if !strings.EqualFold(b.Name, name) {
			continue
		}
		var isExcluded bool
		for _, ex := range excluded {
			if ex.ID == b.ID {
				isExcluded = true
				break
			}
		}
		if !isExcluded {
			return batch.ErrNameExists
		}
	}
	return nil
}

func (repo *batchRepository) CreateBatch(ctx context.Context, b batch.Batch) (batch.Batch, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	b.ID = uuid.NewString()
	repo.db.rows[b.ID] = copyBatch(b)
	return b, nil
}

func (repo *batchRepository) QueryBatches(ctx context.Context, filter *batch.QueryFilter, ordering []core.DBOrdering) ([]batch.Batch, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	batches := repo.db.all(func(b batch.Batch) bool {
		return filter == nil || matchBatch(b, filter)
	})
	for i := range batches {
		batches[i] = copyBatch(batches[i])
	}
	orderBy(batches, ordering, batchOrderings, core.DBOrdering{Field: "start_date"}, core.DBOrdering{Field: "name", Ascending: true})
	return batches, nil
}

func matchBatch(b batch.Batch, filter *batch.QueryFilter) bool {
	if filter.Search != "" && !containsFolded(b.Name, filter.Search) && !containsFolded(b.Program, filter.Search) {
		return false
	}
	if len(filter.Statuses) > 0 && !core.ContainsString(filter.Statuses, string(b.Status)) {
		return false
	}
	if filter.TrainerID != "" && b.TrainerID != filter.TrainerID {
		return false
	}
	if filter.TraineeID != "" && !b.HasTrainee(filter.TraineeID) {
		return false
	}
	if !filter.ActiveOn.IsZero() && !b.IsActiveOn(filter.ActiveOn) {
		return false
	}
	return true
}

func (repo *batchRepository) GetBatch(ctx context.Context, id string) (batch.Batch, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if b, ok := repo.db.rows[id]; ok {
		return copyBatch(b), nil
	}
	return batch.Batch{}, batch.ErrNotFound
}

// UpdateBatch saves every field but the trainees, which change through AddTrainees & RemoveTrainees.
func (repo *batchRepository) UpdateBatch(ctx context.Context, b batch.Batch) (batch.Batch, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.rows[b.ID]
	if !ok {
		return batch.Batch{}, batch.ErrNotFound
	}
	b.TraineeIDs = orig.TraineeIDs
	repo.db.rows[b.ID] = b
	return copyBatch(b), nil
}

func (repo *batchRepository) DeleteBatchesByID(ctx context.Context, ids []string) (int, error) {
	return repo.db.deleteIDs(ids), nil
}

func (repo *batchRepository) AddTrainees(ctx context.Context, batchID string, traineeIDs []string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	b, ok := repo.db.rows[batchID]
	if !ok {
		return batch.ErrNotFound
	}
	b = copyBatch(b)
	for _, tid := range traineeIDs {
		if !b.HasTrainee(tid) {
			b.TraineeIDs = append(b.TraineeIDs, tid)
		}
	}
	if b.Capacity > 0 && len(b.TraineeIDs) > b.Capacity {
		return batch.ErrCapacityExceeded
	}
	repo.db.rows[batchID] = b
	return nil
}

func (repo *batchRepository) RemoveTrainees(ctx context.Context, batchID string, traineeIDs []string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	b, ok := repo.db.rows[batchID]
	if !ok {
		return batch.ErrNotFound
	}
	kept := make([]string, 0, len(b.TraineeIDs))
	for _, tid := range b.TraineeIDs {
		if !core.ContainsString(traineeIDs, tid) {
			kept = append(kept, tid)
		}
	}
	b.TraineeIDs = kept
	repo.db.rows[batchID] = b
	return nil
}
