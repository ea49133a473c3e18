package testutil

import (
	"context"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/attendance"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/evaluation"
	"github.com/cohortly/cohortly/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	if roles == nil {
		roles = []string{}
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateTrainee creates an active trainee named after uname.
func CreateTrainee(t *testing.T, repo user.Repository, name, uname string) user.User {
	t.Helper()
	return CreateUser(t, repo, name, uname, uname+"@example.com", "", []string{user.RoleTrainee}, true)
}

func CreateBatch(
	t *testing.T,
	repo batch.Repository,
	name string,
	status batch.Status,
	start, end time.Time,
	traineeIDs ...string,
) batch.Batch {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	b, err := repo.CreateBatch(ctx, batch.Batch{
		Name:       name,
		Status:     status,
		StartDate:  core.Date(start),
		EndDate:    core.Date(end),
		TraineeIDs: []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("CreateBatch() failed: %v", err)
	}
	if len(traineeIDs) > 0 {
		if err := repo.AddTrainees(ctx, b.ID, traineeIDs); err != nil {
			t.Fatalf("CreateBatch() failed: %v", err)
		}
		if b, err = repo.GetBatch(ctx, b.ID); err != nil {
			t.Fatalf("CreateBatch() failed: %v", err)
		}
	}
	return b
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// NewValidator returns a validator with every custom tag registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	batch.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)
	evaluation.InitValidators(validate, translator)
	return validate, translator
}

// NopLogger discards everything.
type NopLogger struct{}

var _ core.Logger = NopLogger{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}
