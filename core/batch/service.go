package batch

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("batch not found")
	ErrNameExists        = errors.New("a batch with this name already exists")
	ErrInvalidTransition = errors.New("batch status cannot change anymore")
	ErrBatchClosed       = errors.New("batch is closed")
	ErrCapacityExceeded  = errors.New("batch capacity exceeded")
	ErrInvalidTrainer    = errors.New("trainer must be an active trainer or admin")
	ErrInvalidTrainees   = errors.New("all trainees must be active users with the trainee role")
)

type (
	Repository interface {
		// CheckNameUniqueness returns ErrNameExists if another Batch (not in excluded) uses the name (case-insensitive).
		CheckNameUniqueness(ctx context.Context, name string, excluded []Batch) error
		CreateBatch(ctx context.Context, b Batch) (Batch, error)
		QueryBatches(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Batch, error)
		GetBatch(ctx context.Context, id string) (Batch, error)
		UpdateBatch(ctx context.Context, b Batch) (Batch, error)
		DeleteBatchesByID(ctx context.Context, ids []string) (int, error)
		// AddTrainees fails with ErrCapacityExceeded, adding nobody, when the enrollment
		// would push the batch over a non zero capacity.
		AddTrainees(ctx context.Context, batchID string, traineeIDs []string) error
		RemoveTrainees(ctx context.Context, batchID string, traineeIDs []string) error
	}

	// UserFinder looks up users; satisfied by user.Service.
	UserFinder interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		Query(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error)
	}

	Service interface {
		CheckUniqueness(ctx context.Context, name string, excluded ...Batch) error
		Create(ctx context.Context, nb NewBatch) (Batch, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Batch, error)
		GetByID(ctx context.Context, id string) (Batch, error)
		Update(ctx context.Context, id string, ub UpdateBatch) (Batch, error)
		Delete(ctx context.Context, ids ...string) error
		Advance(ctx context.Context, id string) (Batch, error)
		Cancel(ctx context.Context, id string) (Batch, error)
		AddTrainees(ctx context.Context, id string, traineeIDs []string) (Batch, error)
		RemoveTrainees(ctx context.Context, id string, traineeIDs []string) (Batch, error)
		ListTrainees(ctx context.Context, id string) ([]user.User, error)
	}

	service struct {
		repo    Repository
		users   UserFinder
		mailSvc core.EmailService
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, users UserFinder, mailSvc core.EmailService) Service {
	return &service{
		repo:    repo,
		users:   users,
		mailSvc: mailSvc,
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, name string, excluded ...Batch) error {
	if err := svc.repo.CheckNameUniqueness(ctx, name, excluded); err != nil {
		if errors.Cause(err) == ErrNameExists {
			return core.NewFieldError("name", ErrNameExists)
		}
		return err
	}
	return nil
}

func (svc *service) checkDates(start, end time.Time) error {
	if core.Date(end).Before(core.Date(start)) {
		return core.NewValidationError(nil, core.FieldError{Field: "end_date", Error: "end date must not be before start date"})
	}
	return nil
}

func (svc *service) checkTrainer(ctx context.Context, trainerID string) error {
	if trainerID == "" {
		return nil
	}
	trainer, err := svc.users.GetByID(ctx, trainerID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return core.NewFieldError("trainer_id", ErrInvalidTrainer)
		}
		return errors.Wrap(err, "finding trainer")
	}
	if !trainer.IsActive || !trainer.IsStaff() {
		return core.NewFieldError("trainer_id", ErrInvalidTrainer)
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nb NewBatch) (Batch, error) {
	if err := svc.checkDates(nb.StartDate, nb.EndDate); err != nil {
		return Batch{}, err
	}
	if err := svc.checkTrainer(ctx, nb.TrainerID); err != nil {
		return Batch{}, err
	}

	now := time.Now().UTC()
	b := Batch{
		Name:       nb.Name,
		Program:    nb.Program,
		TrainerID:  nb.TrainerID,
		Status:     StatusPlanned,
		Capacity:   nb.Capacity,
		StartDate:  core.Date(nb.StartDate),
		EndDate:    core.Date(nb.EndDate),
		TraineeIDs: []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return svc.repo.CreateBatch(ctx, b)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Batch, error) {
	return svc.repo.QueryBatches(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Batch, error) {
	return svc.repo.GetBatch(ctx, id)
}

func (svc *service) Update(ctx context.Context, id string, ub UpdateBatch) (Batch, error) {
	b, err := svc.repo.GetBatch(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	if err := svc.checkDates(ub.StartDate, ub.EndDate); err != nil {
		return Batch{}, err
	}

	b.Name = ub.Name
	b.StartDate = core.Date(ub.StartDate)
	b.EndDate = core.Date(ub.EndDate)
	if ub.Program != nil {
		b.Program = core.CleanString(*ub.Program)
	}
	if ub.TrainerID != nil {
		trainerID := core.CleanString(*ub.TrainerID)
		if err := svc.checkTrainer(ctx, trainerID); err != nil {
			return Batch{}, err
		}
		b.TrainerID = trainerID
	}
	if ub.Capacity != nil {
		if *ub.Capacity > 0 && *ub.Capacity < len(b.TraineeIDs) {
			return Batch{}, core.NewFieldError("capacity", ErrCapacityExceeded)
		}
		b.Capacity = *ub.Capacity
	}
	b.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateBatch(ctx, b)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	_, err := svc.repo.DeleteBatchesByID(ctx, ids)
	return err
}

func (svc *service) setStatus(ctx context.Context, b Batch, status Status) (Batch, error) {
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateBatch(ctx, b)
}

// Advance moves the batch to the next stage of its lifecycle.
func (svc *service) Advance(ctx context.Context, id string) (Batch, error) {
	b, err := svc.repo.GetBatch(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	next, ok := b.Status.Next()
	if !ok {
		return Batch{}, core.NewFieldError("status", ErrInvalidTransition)
	}
	return svc.setStatus(ctx, b, next)
}

func (svc *service) Cancel(ctx context.Context, id string) (Batch, error) {
	b, err := svc.repo.GetBatch(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	if b.Status.IsTerminal() {
		return Batch{}, core.NewFieldError("status", ErrInvalidTransition)
	}
	return svc.setStatus(ctx, b, StatusCancelled)
}

// AddTrainees enrolls active trainees into the batch and notifies the newly enrolled ones.
// Already enrolled trainees are ignored.
func (svc *service) AddTrainees(ctx context.Context, id string, traineeIDs []string) (Batch, error) {
	b, err := svc.repo.GetBatch(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	if b.Status.IsTerminal() {
		return Batch{}, core.NewFieldError("status", ErrBatchClosed)
	}

	toAdd := make([]string, 0, len(traineeIDs))
	for _, tid := range traineeIDs {
		if !b.HasTrainee(tid) && !core.ContainsString(toAdd, tid) {
			toAdd = append(toAdd, tid)
		}
	}
	if len(toAdd) == 0 {
		return b, nil
	}
	if b.Capacity > 0 && len(b.TraineeIDs)+len(toAdd) > b.Capacity {
		return Batch{}, core.NewFieldError("trainee_ids", ErrCapacityExceeded)
	}

	trainees, err := svc.users.Query(ctx, &user.QueryFilter{IDs: toAdd}, nil)
	if err != nil {
		return Batch{}, errors.Wrap(err, "querying trainees")
	}
	if len(trainees) != len(toAdd) {
		return Batch{}, core.NewFieldError("trainee_ids", ErrInvalidTrainees)
	}
	for _, t := range trainees {
		if !t.IsActive || !t.IsTrainee() {
			return Batch{}, core.NewFieldError("trainee_ids", ErrInvalidTrainees)
		}
	}

	if err := svc.repo.AddTrainees(ctx, b.ID, toAdd); err != nil {
		if errors.Cause(err) == ErrCapacityExceeded {
			return Batch{}, core.NewFieldError("trainee_ids", ErrCapacityExceeded)
		}
		return Batch{}, errors.Wrap(err, "adding trainees")
	}
	svc.mailSvc.SendMessages(enrollmentMessages(b, trainees)...)
	return svc.repo.GetBatch(ctx, b.ID)
}

func (svc *service) RemoveTrainees(ctx context.Context, id string, traineeIDs []string) (Batch, error) {
	b, err := svc.repo.GetBatch(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	if b.Status.IsTerminal() {
		return Batch{}, core.NewFieldError("status", ErrBatchClosed)
	}
	if err := svc.repo.RemoveTrainees(ctx, b.ID, traineeIDs); err != nil {
		return Batch{}, errors.Wrap(err, "removing trainees")
	}
	return svc.repo.GetBatch(ctx, b.ID)
}

func (svc *service) ListTrainees(ctx context.Context, id string) ([]user.User, error) {
	b, err := svc.repo.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(b.TraineeIDs) == 0 {
		return []user.User{}, nil
	}
	return svc.users.Query(ctx, &user.QueryFilter{IDs: b.TraineeIDs}, []core.DBOrdering{{Field: "name", Ascending: true}})
}

func enrollmentMessages(b Batch, trainees []user.User) []*core.EmailMessage {
	msgs := make([]*core.EmailMessage, 0, len(trainees))
	for _, t := range trainees {
		if t.Email == "" {
			continue
		}
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Name: t.Name, Address: t.Email}},
			Subject:      "Welcome to " + b.Name,
			TemplateName: "batch_enrolled",
			TemplateData: map[string]interface{}{
				"Name":      t.Name,
				"BatchID":   b.ID,
				"BatchName": b.Name,
				"Program":   b.Program,
				"StartDate": b.StartDate.Format("Mon, 02 Jan 2006"),
				"EndDate":   b.EndDate.Format("Mon, 02 Jan 2006"),
			},
		})
	}
	return msgs
}
