package batch

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cohortly/cohortly/core"
)

// Status is the stage of a training batch.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusTraining   Status = "training"   // classroom training
	StatusNesting    Status = "nesting"    // supervised live calls
	StatusProduction Status = "production" // on the floor, still tracked
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var (
	Statuses = []Status{StatusPlanned, StatusTraining, StatusNesting, StatusProduction, StatusCompleted, StatusCancelled}

	// nextStatus is the lifecycle of a Batch. Terminal statuses have no entry.
	nextStatus = map[Status]Status{
		StatusPlanned:    StatusTraining,
		StatusTraining:   StatusNesting,
		StatusNesting:    StatusProduction,
		StatusProduction: StatusCompleted,
	}
)

func (s Status) IsValid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the batch is over: no more transitions nor enrollments.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Next returns the status following s in the lifecycle.
func (s Status) Next() (Status, bool) {
	next, ok := nextStatus[s]
	return next, ok
}

type Batch struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Program    string    `json:"program"`
	TrainerID  string    `json:"trainer_id"`
	Status     Status    `json:"status"`
	Capacity   int       `json:"capacity"` // 0: unbounded
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	TraineeIDs []string  `json:"trainee_ids"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

// HasTrainee reports whether the trainee is enrolled in the batch.
func (b Batch) HasTrainee(traineeID string) bool {
	return core.ContainsString(b.TraineeIDs, traineeID)
}

// Covers reports whether the date falls within the batch dates.
func (b Batch) Covers(date time.Time) bool {
	d := core.Date(date)
	return !d.Before(core.Date(b.StartDate)) && !d.After(core.Date(b.EndDate))
}

// IsActiveOn reports whether the batch runs on the given date.
func (b Batch) IsActiveOn(date time.Time) bool {
	return !b.Status.IsTerminal() && b.Covers(date)
}

// NewBatch contains information needed to create a new Batch.
type NewBatch struct {
	Name      string    `json:"name" validate:"required,max=255"`
	Program   string    `json:"program" validate:"max=255"`
	TrainerID string    `json:"trainer_id" validate:"omitempty,uuid"`
	Capacity  int       `json:"capacity" validate:"gte=0"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

func (nb *NewBatch) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nb.Name = core.CleanString(nb.Name)
	nb.Program = core.CleanString(nb.Program)
	nb.TrainerID = core.CleanString(nb.TrainerID)

	if err := validate.Struct(nb); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nb.Name)
}

// UpdateBatch defines what information may be provided to modify an existing Batch.
// Status changes go through Service.Advance & Service.Cancel.
type UpdateBatch struct {
	Name      string    `json:"name" validate:"max=255"`
	Program   *string   `json:"program" validate:"omitempty,max=255"`
	TrainerID *string   `json:"trainer_id" validate:"omitempty,uuid"`
	Capacity  *int      `json:"capacity" validate:"omitempty,gte=0"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

func (ub *UpdateBatch) Validate(ctx context.Context, orig Batch, validate *validator.Validate, svc Service) error {
	if name := core.CleanString(ub.Name); name != "" {
		ub.Name = name
	} else {
		ub.Name = orig.Name
	}
	if ub.StartDate.IsZero() {
		ub.StartDate = orig.StartDate
	}
	if ub.EndDate.IsZero() {
		ub.EndDate = orig.EndDate
	}

	if err := validate.Struct(ub); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, ub.Name, orig)
}

// Enrollment lists trainees to add to or remove from a Batch.
type Enrollment struct {
	TraineeIDs []string `json:"trainee_ids" validate:"required,min=1,dive,uuid"`
}

func (e *Enrollment) Validate(validate *validator.Validate) error {
	e.TraineeIDs = core.CleanStrings(e.TraineeIDs)
	return validate.Struct(e)
}

type QueryFilter struct {
	Search    string    `query:"search"`
	Statuses  []string  `query:"status" validate:"omitempty,dive,batchstatus"`
	TrainerID string    `query:"trainer_id"`
	TraineeID string    `query:"trainee_id"`
	ActiveOn  time.Time `query:"active_on"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Statuses = core.CleanStrings(qf.Statuses, true /* lower */)
	qf.TrainerID = core.CleanString(qf.TrainerID)
	qf.TraineeID = core.CleanString(qf.TraineeID)
}

func (qf *QueryFilter) Validate(validate *validator.Validate) error {
	qf.Clean()
	return validate.Struct(qf)
}
