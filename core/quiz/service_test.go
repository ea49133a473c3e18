package quiz_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/quiz"
	"github.com/cohortly/cohortly/core/user"
	emailsvc "github.com/cohortly/cohortly/services/email"
	inmemdb "github.com/cohortly/cohortly/storage/database/inmem"
	"github.com/cohortly/cohortly/testutil"
)

var t0 = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc      quiz.Service
	batch    batch.Batch
	trainer  user.User
	trainee  user.User
	outsider user.User
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conf := core.NewTestConfig()
	db := inmemdb.Open()
	mail := emailsvc.NewConsoleServiceMock(conf, testutil.NopLogger{})
	userRepo := inmemdb.NewUserRepository(db)
	batchRepo := inmemdb.NewBatchRepository(db)
	batches := batch.NewService(batchRepo, user.NewService(userRepo, mail, conf), mail)

	f := fixture{
		svc:      quiz.NewService(inmemdb.NewQuizRepository(db), batches, conf),
		trainer:  testutil.CreateUser(t, userRepo, "Tom", "tom", "tom@example.com", "", []string{user.RoleTrainer}, true),
		trainee:  testutil.CreateTrainee(t, userRepo, "Ann", "ann"),
		outsider: testutil.CreateTrainee(t, userRepo, "Bob", "bob"),
	}
	f.batch = testutil.CreateBatch(t, batchRepo, "Wave 1", batch.StatusTraining,
		testutil.Date(2026, time.March, 2), testutil.Date(2026, time.April, 24), f.trainee.ID)
	return f
}

func newQuestions(n int) []quiz.NewQuestion {
	qs := make([]quiz.NewQuestion, n)
	for i := range qs {
		qs[i] = quiz.NewQuestion{
			Prompt:       "Question " + string(rune('A'+i)),
			Options:      []string{"right", "wrong 1", "wrong 2", "wrong 3"},
			CorrectIndex: 0,
		}
	}
	return qs
}

func (f fixture) createQuiz(t *testing.T, timeLimit, maxAttempts int) quiz.Quiz {
	t.Helper()
	ctx := context.Background()
	qz, err := f.svc.Create(ctx, quiz.NewQuiz{
		BatchID:     f.batch.ID,
		Title:       "Products 101",
		TimeLimit:   timeLimit,
		MaxAttempts: maxAttempts,
		Questions:   newQuestions(4),
	}, f.trainer)
	require.NoError(t, err)
	qz, err = f.svc.Publish(ctx, qz.ID)
	require.NoError(t, err)
	return qz
}

// correctAnswers answers every question of the attempt right.
func (f fixture) correctAnswers(t *testing.T, qz quiz.Quiz, a quiz.Attempt) map[string]int {
	t.Helper()
	delivered, err := f.svc.Preview(context.Background(), qz.ID, a.UserID, a.StartedAt)
	require.NoError(t, err)
	answers := make(map[string]int, len(delivered.Questions))
	for _, q := range delivered.Questions {
		require.Equal(t, "right", q.Options[q.CorrectIndex])
		answers[q.ID] = q.CorrectIndex
	}
	return answers
}

func TestServiceCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	qz, err := f.svc.Create(ctx, quiz.NewQuiz{BatchID: f.batch.ID, Title: "Draft", Questions: newQuestions(3)}, f.trainer)
	require.NoError(t, err)
	assert.Equal(t, 80, qz.PassingScore)
	assert.True(t, qz.ShuffleQuestions)
	assert.True(t, qz.ShuffleOptions)
	assert.False(t, qz.IsPublished)
	assert.Equal(t, f.trainer.ID, qz.CreatedBy)
	require.Len(t, qz.Questions, 3)
	assert.Equal(t, 3, qz.Questions[2].Position)
	assert.Equal(t, 3, qz.MaxScore())

	bad := newQuestions(2)
	bad[1].CorrectIndex = 4
	_, err = f.svc.Create(ctx, quiz.NewQuiz{BatchID: f.batch.ID, Title: "Broken", Questions: bad}, f.trainer)
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "questions[1].correct_index", verr.Fields[0].Field)

	bad = newQuestions(2)
	bad[0].CorrectIndex = -1
	_, err = f.svc.Create(ctx, quiz.NewQuiz{BatchID: f.batch.ID, Title: "Broken", Questions: bad}, f.trainer)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "questions[0].correct_index", verr.Fields[0].Field)

	_, err = f.svc.Create(ctx, quiz.NewQuiz{BatchID: "unknown", Title: "Orphan"}, f.trainer)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "batch_id", verr.Fields[0].Field)
}

func TestServicePublishAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.svc.Create(ctx, quiz.NewQuiz{BatchID: f.batch.ID, Title: "Empty"}, f.trainer)
	require.NoError(t, err)
	_, err = f.svc.Publish(ctx, empty.ID)
	assert.ErrorIs(t, err, quiz.ErrNoQuestions)

	limit := 15
	qz, err := f.svc.Update(ctx, empty.ID, quiz.UpdateQuiz{Title: "Filled", TimeLimit: &limit, Questions: newQuestions(2)})
	require.NoError(t, err)
	assert.Equal(t, "Filled", qz.Title)
	assert.Equal(t, 15, qz.TimeLimit)
	assert.Len(t, qz.Questions, 2)

	qz, err = f.svc.Publish(ctx, qz.ID)
	require.NoError(t, err)
	assert.True(t, qz.IsPublished)

	_, err = f.svc.Update(ctx, qz.ID, quiz.UpdateQuiz{Questions: newQuestions(1)})
	assert.ErrorIs(t, err, quiz.ErrPublished)

	published := true
	quizzes, err := f.svc.Query(ctx, &quiz.QueryFilter{BatchIDs: []string{f.batch.ID}, IsPublished: &published}, nil)
	require.NoError(t, err)
	require.Len(t, quizzes, 1)
	assert.Equal(t, qz.ID, quizzes[0].ID)
	assert.Empty(t, quizzes[0].Questions)

	require.NoError(t, f.svc.Delete(ctx, qz.ID))
	_, err = f.svc.GetByID(ctx, qz.ID)
	assert.Equal(t, quiz.ErrNotFound, errors.Cause(err))
}

func TestServiceStartAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	defer quiz.SetNow(t0)()
	qz := f.createQuiz(t, 10, 2)

	t.Run("not enrolled", func(t *testing.T) {
		_, err := f.svc.StartAttempt(ctx, qz.ID, f.outsider)
		assert.Equal(t, quiz.ErrNotEnrolled, errors.Cause(err))
	})

	t.Run("unpublished", func(t *testing.T) {
		draft, err := f.svc.Create(ctx, quiz.NewQuiz{BatchID: f.batch.ID, Title: "Draft", Questions: newQuestions(1)}, f.trainer)
		require.NoError(t, err)
		_, err = f.svc.StartAttempt(ctx, draft.ID, f.trainee)
		assert.ErrorIs(t, err, quiz.ErrNotPublished)
	})

	dv, err := f.svc.StartAttempt(ctx, qz.ID, f.trainee)
	require.NoError(t, err)
	assert.Equal(t, qz.ID, dv.QuizID)
	assert.Equal(t, t0, dv.Attempt.StartedAt)
	assert.Equal(t, 4, dv.Attempt.MaxScore)
	require.NotNil(t, dv.Deadline)
	assert.Equal(t, t0.Add(10*time.Minute), *dv.Deadline)
	require.Len(t, dv.Questions, 4)
	for i, q := range dv.Questions {
		assert.Equal(t, i+1, q.Position)
		assert.ElementsMatch(t, []string{"right", "wrong 1", "wrong 2", "wrong 3"}, q.Options)
	}

	t.Run("resume", func(t *testing.T) {
		defer quiz.SetNow(t0.Add(5 * time.Minute))()
		again, err := f.svc.StartAttempt(ctx, qz.ID, f.trainee)
		require.NoError(t, err)
		assert.Equal(t, dv.Attempt.ID, again.Attempt.ID)
		assert.Equal(t, dv.Questions, again.Questions)
	})

	t.Run("expired attempt is not resumed", func(t *testing.T) {
		defer quiz.SetNow(t0.Add(20 * time.Minute))()
		next, err := f.svc.StartAttempt(ctx, qz.ID, f.trainee)
		require.NoError(t, err)
		assert.NotEqual(t, dv.Attempt.ID, next.Attempt.ID)

		// both allowed attempts are used
		defer quiz.SetNow(t0.Add(time.Hour))()
		_, err = f.svc.StartAttempt(ctx, qz.ID, f.trainee)
		assert.ErrorIs(t, err, quiz.ErrNoAttemptsLeft)
	})
}

func TestServiceConcurrentStartAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	defer quiz.SetNow(t0)()
	qz := f.createQuiz(t, 10, 1)

	const starts = 8
	deliveries := make([]quiz.Delivery, starts)
	errs := make([]error, starts)
	var wg sync.WaitGroup
	for i := 0; i < starts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			deliveries[i], errs[i] = f.svc.StartAttempt(ctx, qz.ID, f.trainee)
		}(i)
	}
	wg.Wait()

	attemptIDs := map[string]bool{}
	for i, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, quiz.ErrNoAttemptsLeft)
			continue
		}
		attemptIDs[deliveries[i].Attempt.ID] = true
	}
	assert.Len(t, attemptIDs, 1)

	attempts, err := f.svc.QueryAttempts(ctx, &quiz.AttemptFilter{QuizID: qz.ID, UserID: f.trainee.ID})
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestServiceUpdatePublishedSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	defer quiz.SetNow(t0)()
	qz := f.createQuiz(t, 10, 0)

	dv, err := f.svc.StartAttempt(ctx, qz.ID, f.trainee)
	require.NoError(t, err)
	answers := f.correctAnswers(t, qz, dv.Attempt)

	off, limit, passing := false, 30, 50
	_, err = f.svc.Update(ctx, qz.ID, quiz.UpdateQuiz{ShuffleQuestions: &off, ShuffleOptions: &off, TimeLimit: &limit, PassingScore: &passing})
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make([]string, 0, len(verr.Fields))
	for _, fe := range verr.Fields {
		assert.Equal(t, quiz.ErrSettingFrozen.Error(), fe.Error)
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"shuffle_questions", "shuffle_options", "time_limit", "passing_score"}, fields)

	// unchanged values & other fields are accepted
	on, same, two := true, 10, 2
	updated, err := f.svc.Update(ctx, qz.ID, quiz.UpdateQuiz{Title: "Products 102", ShuffleOptions: &on, TimeLimit: &same, MaxAttempts: &two})
	require.NoError(t, err)
	assert.Equal(t, "Products 102", updated.Title)
	assert.Equal(t, 2, updated.MaxAttempts)
	assert.True(t, updated.ShuffleOptions)

	// the open attempt is graded against the ordering it was delivered with
	a, err := f.svc.SubmitAttempt(ctx, dv.Attempt.ID, f.trainee, quiz.Submission{Answers: answers})
	require.NoError(t, err)
	assert.Equal(t, 4, a.Score)
	assert.True(t, a.Passed)
}

func TestServiceSubmitAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	defer quiz.SetNow(t0)()
	qz := f.createQuiz(t, 10, 0)

	dv, err := f.svc.StartAttempt(ctx, qz.ID, f.trainee)
	require.NoError(t, err)
	answers := f.correctAnswers(t, qz, dv.Attempt)

	t.Run("someone else's attempt", func(t *testing.T) {
		_, err := f.svc.SubmitAttempt(ctx, dv.Attempt.ID, f.outsider, quiz.Submission{Answers: answers})
		assert.Equal(t, quiz.ErrAttemptNotFound, errors.Cause(err))
	})

	t.Run("invalid answers", func(t *testing.T) {
		_, err := f.svc.SubmitAttempt(ctx, dv.Attempt.ID, f.trainee, quiz.Submission{Answers: map[string]int{"nope": 0}})
		var verr *core.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "answers.nope", verr.Fields[0].Field)
	})

	t.Run("graded", func(t *testing.T) {
		defer quiz.SetNow(t0.Add(8 * time.Minute))()
		// one wrong answer out of 4
		for id, sel := range answers {
			answers[id] = (sel + 1) % 4
			break
		}
		a, err := f.svc.SubmitAttempt(ctx, dv.Attempt.ID, f.trainee, quiz.Submission{Answers: answers})
		require.NoError(t, err)
		require.NotNil(t, a.SubmittedAt)
		assert.Equal(t, 3, a.Score)
		assert.Equal(t, 4, a.MaxScore)
		assert.Equal(t, 75.0, a.Percentage)
		assert.False(t, a.Passed)
		assert.False(t, a.Late)

		_, err = f.svc.SubmitAttempt(ctx, dv.Attempt.ID, f.trainee, quiz.Submission{Answers: answers})
		assert.ErrorIs(t, err, quiz.ErrAlreadySubmitted)
	})

	t.Run("late", func(t *testing.T) {
		defer quiz.SetNow(t0.Add(time.Hour))()
		next, err := f.svc.StartAttempt(ctx, qz.ID, f.trainee)
		require.NoError(t, err)

		defer quiz.SetNow(t0.Add(time.Hour + 13*time.Minute))()
		a, err := f.svc.SubmitAttempt(ctx, next.Attempt.ID, f.trainee, quiz.Submission{Answers: f.correctAnswers(t, qz, next.Attempt)})
		require.NoError(t, err)
		assert.True(t, a.Late)
		assert.True(t, a.Passed)
		assert.Equal(t, 100.0, a.Percentage)
	})

	submitted := true
	attempts, err := f.svc.QueryAttempts(ctx, &quiz.AttemptFilter{QuizID: qz.ID, UserID: f.trainee.ID, Submitted: &submitted})
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}
