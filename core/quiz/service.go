package quiz

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("quiz not found")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrNotPublished     = errors.New("quiz is not published")
	ErrPublished        = errors.New("questions of a published quiz cannot change")
	ErrSettingFrozen    = errors.New("cannot change once the quiz is published")
	ErrNoQuestions      = errors.New("quiz has no questions")
	ErrNotEnrolled      = errors.New("user is not enrolled in the quiz batch")
	ErrNoAttemptsLeft   = errors.New("no attempts left")
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	ErrInvalidAnswer    = errors.New("invalid answer")

	nowFunc = func() time.Time { return time.Now().UTC() }
)

type (
	Repository interface {
		CreateQuiz(ctx context.Context, qz Quiz) (Quiz, error)
		// QueryQuizzes returns quizzes without their questions.
		QueryQuizzes(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Quiz, error)
		GetQuiz(ctx context.Context, id string) (Quiz, error)
		// UpdateQuiz replaces the quiz questions with qz.Questions.
		UpdateQuiz(ctx context.Context, qz Quiz) (Quiz, error)
		DeleteQuizzesByID(ctx context.Context, ids []string) (int, error)
		// CreateAttempt fails with ErrNoAttemptsLeft when maxAttempts > 0 and the user
		// already has maxAttempts attempts at the quiz.
		CreateAttempt(ctx context.Context, a Attempt, maxAttempts int) (Attempt, error)
		GetAttempt(ctx context.Context, id string) (Attempt, error)
		// QueryAttempts returns attempts ordered by StartedAt.
		QueryAttempts(ctx context.Context, filter *AttemptFilter) ([]Attempt, error)
		UpdateAttempt(ctx context.Context, a Attempt) (Attempt, error)
	}

	// BatchFinder looks up batches; satisfied by batch.Service.
	BatchFinder interface {
		GetByID(ctx context.Context, id string) (batch.Batch, error)
	}

	Service interface {
		Create(ctx context.Context, nq NewQuiz, author user.User) (Quiz, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Quiz, error)
		GetByID(ctx context.Context, id string) (Quiz, error)
		Update(ctx context.Context, id string, uq UpdateQuiz) (Quiz, error)
		Publish(ctx context.Context, id string) (Quiz, error)
		Delete(ctx context.Context, ids ...string) error
		// Preview returns the quiz as it is delivered to the user on the date, answers included.
		Preview(ctx context.Context, id, userID string, date time.Time) (Quiz, error)
		StartAttempt(ctx context.Context, id string, usr user.User) (Delivery, error)
		SubmitAttempt(ctx context.Context, attemptID string, usr user.User, sub Submission) (Attempt, error)
		GetAttempt(ctx context.Context, attemptID string) (Attempt, error)
		QueryAttempts(ctx context.Context, filter *AttemptFilter) ([]Attempt, error)
	}

	service struct {
		repo    Repository
		batches BatchFinder
		conf    *core.Config
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, batches BatchFinder, conf *core.Config) Service {
	return &service{
		repo:    repo,
		batches: batches,
		conf:    conf,
	}
}

func newQuestions(nqs []NewQuestion) ([]Question, error) {
	questions := make([]Question, len(nqs))
	var fields []core.FieldError
	for i, nq := range nqs {
		if nq.CorrectIndex < 0 || nq.CorrectIndex >= len(nq.Options) {
			fields = append(fields, core.FieldError{
				Field: fmt.Sprintf("questions[%d].correct_index", i),
				Error: ErrInvalidCorrectIndex.Error(),
			})
			continue
		}
		questions[i] = Question{
			ID:           uuid.NewString(),
			Position:     i + 1,
			Prompt:       nq.Prompt,
			Options:      nq.Options,
			CorrectIndex: nq.CorrectIndex,
			Points:       nq.Points,
		}
		if questions[i].Points <= 0 {
			questions[i].Points = 1
		}
	}
	if len(fields) > 0 {
		return nil, core.NewValidationError(nil, fields...)
	}
	return questions, nil
}

func (svc *service) checkBatch(ctx context.Context, batchID string) error {
	b, err := svc.batches.GetByID(ctx, batchID)
	if err != nil {
		if errors.Cause(err) == batch.ErrNotFound {
			return core.NewFieldError("batch_id", batch.ErrNotFound)
		}
		return errors.Wrap(err, "finding batch")
	}
	if b.Status.IsTerminal() {
		return core.NewFieldError("batch_id", batch.ErrBatchClosed)
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nq NewQuiz, author user.User) (Quiz, error) {
	if err := svc.checkBatch(ctx, nq.BatchID); err != nil {
		return Quiz{}, err
	}
	questions, err := newQuestions(nq.Questions)
	if err != nil {
		return Quiz{}, err
	}

	now := nowFunc()
	qz := Quiz{
		BatchID:          nq.BatchID,
		Title:            nq.Title,
		Description:      nq.Description,
		TimeLimit:        nq.TimeLimit,
		PassingScore:     nq.PassingScore,
		MaxAttempts:      nq.MaxAttempts,
		ShuffleQuestions: true,
		ShuffleOptions:   true,
		Questions:        questions,
		CreatedBy:        author.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if qz.PassingScore == 0 {
		qz.PassingScore = svc.conf.Training.QuizPassingScore
	}
	if nq.ShuffleQuestions != nil {
		qz.ShuffleQuestions = *nq.ShuffleQuestions
	}
	if nq.ShuffleOptions != nil {
		qz.ShuffleOptions = *nq.ShuffleOptions
	}
	return svc.repo.CreateQuiz(ctx, qz)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Quiz, error) {
	return svc.repo.QueryQuizzes(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Quiz, error) {
	return svc.repo.GetQuiz(ctx, id)
}

func (svc *service) Update(ctx context.Context, id string, uq UpdateQuiz) (Quiz, error) {
	qz, err := svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}

	if qz.IsPublished {
		if err := checkFrozenSettings(qz, uq); err != nil {
			return Quiz{}, err
		}
	}

	if uq.Title != "" {
		qz.Title = uq.Title
	}
	if uq.Description != nil {
		qz.Description = core.CleanString(*uq.Description)
	}
	if uq.TimeLimit != nil {
		qz.TimeLimit = *uq.TimeLimit
	}
	if uq.PassingScore != nil {
		qz.PassingScore = *uq.PassingScore
		if qz.PassingScore == 0 {
			qz.PassingScore = svc.conf.Training.QuizPassingScore
		}
	}
	if uq.MaxAttempts != nil {
		qz.MaxAttempts = *uq.MaxAttempts
	}
	if uq.ShuffleQuestions != nil {
		qz.ShuffleQuestions = *uq.ShuffleQuestions
	}
	if uq.ShuffleOptions != nil {
		qz.ShuffleOptions = *uq.ShuffleOptions
	}
	if uq.Questions != nil {
		if qz.Questions, err = newQuestions(uq.Questions); err != nil {
			return Quiz{}, err
		}
	}
	qz.UpdatedAt = nowFunc()
	return svc.repo.UpdateQuiz(ctx, qz)
}

// checkFrozenSettings rejects changes to the settings that shape the delivered view & its grading.
// Open attempts are graded against the quiz as it is at submission time.
func checkFrozenSettings(qz Quiz, uq UpdateQuiz) error {
	var fields []core.FieldError
	frozen := func(field string) {
		fields = append(fields, core.FieldError{Field: field, Error: ErrSettingFrozen.Error()})
	}
	if uq.ShuffleQuestions != nil && *uq.ShuffleQuestions != qz.ShuffleQuestions {
		frozen("shuffle_questions")
	}
	if uq.ShuffleOptions != nil && *uq.ShuffleOptions != qz.ShuffleOptions {
		frozen("shuffle_options")
	}
	if uq.TimeLimit != nil && *uq.TimeLimit != qz.TimeLimit {
		frozen("time_limit")
	}
	if uq.PassingScore != nil && *uq.PassingScore != qz.PassingScore {
		frozen("passing_score")
	}
	if uq.Questions != nil {
		fields = append(fields, core.FieldError{Field: "questions", Error: ErrPublished.Error()})
	}
	if len(fields) == 0 {
		return nil
	}
	if len(fields) == 1 && uq.Questions != nil {
		return core.NewFieldError("questions", ErrPublished)
	}
	return core.NewValidationError(nil, fields...)
}

func (svc *service) Publish(ctx context.Context, id string) (Quiz, error) {
	qz, err := svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	if qz.IsPublished {
		return qz, nil
	}
	if len(qz.Questions) == 0 {
		return Quiz{}, core.NewFieldError("questions", ErrNoQuestions)
	}
	qz.IsPublished = true
	qz.UpdatedAt = nowFunc()
	return svc.repo.UpdateQuiz(ctx, qz)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	_, err := svc.repo.DeleteQuizzesByID(ctx, ids)
	return err
}

func (svc *service) Preview(ctx context.Context, id, userID string, date time.Time) (Quiz, error) {
	qz, err := svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	return Shuffle(qz, NewSeed(userID, qz.ID, date))
}

func (svc *service) expired(qz Quiz, a Attempt, now time.Time) bool {
	if qz.TimeLimit == 0 {
		return false
	}
	return now.After(a.StartedAt.Add(qz.timeLimit() + svc.conf.Training.QuizGracePeriod))
}

// StartAttempt delivers the quiz to a trainee of its batch. A pending attempt that did not run out of time
// is resumed with the same ordering.
func (svc *service) StartAttempt(ctx context.Context, id string, usr user.User) (Delivery, error) {
	qz, err := svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Delivery{}, err
	}
	if !qz.IsPublished {
		return Delivery{}, core.NewValidationError(ErrNotPublished)
	}
	b, err := svc.batches.GetByID(ctx, qz.BatchID)
	if err != nil {
		return Delivery{}, errors.Wrap(err, "finding batch")
	}
	if !b.HasTrainee(usr.ID) {
		return Delivery{}, ErrNotEnrolled
	}

	attempts, err := svc.repo.QueryAttempts(ctx, &AttemptFilter{QuizID: qz.ID, UserID: usr.ID})
	if err != nil {
		return Delivery{}, errors.Wrap(err, "querying attempts")
	}
	now := nowFunc()
	for _, a := range attempts {
		if !a.IsSubmitted() && !svc.expired(qz, a, now) {
			return svc.delivery(qz, a)
		}
	}
	if qz.MaxAttempts > 0 && len(attempts) >= qz.MaxAttempts {
		return Delivery{}, core.NewValidationError(ErrNoAttemptsLeft)
	}

	a, err := svc.repo.CreateAttempt(ctx, Attempt{
		QuizID:    qz.ID,
		UserID:    usr.ID,
		StartedAt: now,
		Answers:   map[string]int{},
		MaxScore:  qz.MaxScore(),
	}, qz.MaxAttempts)
	if errors.Cause(err) == ErrNoAttemptsLeft {
		return Delivery{}, core.NewValidationError(ErrNoAttemptsLeft)
	}
	if err != nil {
		return Delivery{}, errors.Wrap(err, "creating attempt")
	}
	return svc.delivery(qz, a)
}

func (svc *service) delivery(qz Quiz, a Attempt) (Delivery, error) {
	delivered, err := Shuffle(qz, NewSeed(a.UserID, qz.ID, a.StartedAt))
	if err != nil {
		return Delivery{}, err
	}
	return deliver(delivered, a), nil
}

// SubmitAttempt grades the answers against the ordering delivered when the attempt started.
// Attempts submitted after the time limit (plus grace period) are graded & flagged late.
func (svc *service) SubmitAttempt(ctx context.Context, attemptID string, usr user.User, sub Submission) (Attempt, error) {
	a, err := svc.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.UserID != usr.ID {
		return Attempt{}, ErrAttemptNotFound
	}
	if a.IsSubmitted() {
		return Attempt{}, core.NewValidationError(ErrAlreadySubmitted)
	}
	qz, err := svc.repo.GetQuiz(ctx, a.QuizID)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "finding quiz")
	}
	delivered, err := Shuffle(qz, NewSeed(a.UserID, qz.ID, a.StartedAt))
	if err != nil {
		return Attempt{}, err
	}
	if err := checkAnswers(delivered, sub.Answers); err != nil {
		return Attempt{}, err
	}

	now := nowFunc()
	res := Grade(delivered, sub.Answers)
	a.SubmittedAt = &now
	a.Answers = sub.Answers
	a.Score = res.Score
	a.MaxScore = res.MaxScore
	a.Percentage = res.Percentage
	a.Passed = res.Passed
	a.Late = svc.expired(qz, a, now)
	return svc.repo.UpdateAttempt(ctx, a)
}

func checkAnswers(delivered Quiz, answers map[string]int) error {
	optCount := make(map[string]int, len(delivered.Questions))
	for _, q := range delivered.Questions {
		optCount[q.ID] = len(q.Options)
	}
	var fields []core.FieldError
	for qID, sel := range answers {
		n, ok := optCount[qID]
		if !ok || sel < 0 || sel >= n {
			fields = append(fields, core.FieldError{Field: "answers." + qID, Error: ErrInvalidAnswer.Error()})
		}
	}
	if len(fields) > 0 {
		return core.NewValidationError(nil, fields...)
	}
	return nil
}

func (svc *service) GetAttempt(ctx context.Context, attemptID string) (Attempt, error) {
	return svc.repo.GetAttempt(ctx, attemptID)
}

func (svc *service) QueryAttempts(ctx context.Context, filter *AttemptFilter) ([]Attempt, error) {
	return svc.repo.QueryAttempts(ctx, filter)
}
