package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/quiz"
)

const (
	quizzesTable   = `"quizzes"`
	questionsTable = `"quiz_questions"`
	attemptsTable  = `"quiz_attempts"`
)

var (
	quizColumns = []string{
		"id", "batch_id", "title", "description", "time_limit", "passing_score", "max_attempts",
		"shuffle_questions", "shuffle_options", "is_published", "created_by", "created_at", "updated_at",
	}
	questionColumns = []string{"id", "quiz_id", "position", "prompt", "options", "correct_index", "points"}
	attemptColumns  = []string{
		"id", "quiz_id", "user_id", "started_at", "submitted_at", "answers", "score", "max_score", "percentage", "passed", "late",
	}
	quizOrderings = map[string]string{
		"title":      "title",
		"created_at": "created_at",
		"updated_at": "updated_at",
	}
)

type quizRow struct {
	ID               string      `db:"id"`
	BatchID          string      `db:"batch_id"`
	Title            string      `db:"title"`
	Description      string      `db:"description"`
	TimeLimit        int         `db:"time_limit"`
	PassingScore     int         `db:"passing_score"`
	MaxAttempts      int         `db:"max_attempts"`
	ShuffleQuestions bool        `db:"shuffle_questions"`
	ShuffleOptions   bool        `db:"shuffle_options"`
	IsPublished      bool        `db:"is_published"`
	CreatedBy        null.String `db:"created_by"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

func (r quizRow) quiz() quiz.Quiz {
	return quiz.Quiz{
		ID:               r.ID,
		BatchID:          r.BatchID,
		Title:            r.Title,
		Description:      r.Description,
		TimeLimit:        r.TimeLimit,
		PassingScore:     r.PassingScore,
		MaxAttempts:      r.MaxAttempts,
		ShuffleQuestions: r.ShuffleQuestions,
		ShuffleOptions:   r.ShuffleOptions,
		IsPublished:      r.IsPublished,
		CreatedBy:        r.CreatedBy.String,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

type questionRow struct {
	ID           string         `db:"id"`
	QuizID       string         `db:"quiz_id"`
	Position     int            `db:"position"`
	Prompt       string         `db:"prompt"`
	Options      pq.StringArray `db:"options"`
	CorrectIndex int            `db:"correct_index"`
	Points       int            `db:"points"`
}

type attemptRow struct {
	ID          string         `db:"id"`
	QuizID      string         `db:"quiz_id"`
	UserID      string         `db:"user_id"`
	StartedAt   time.Time      `db:"started_at"`
	SubmittedAt null.Time      `db:"submitted_at"`
	Answers     types.JSONText `db:"answers"`
	Score       int            `db:"score"`
	MaxScore    int            `db:"max_score"`
	Percentage  float64        `db:"percentage"`
	Passed      bool           `db:"passed"`
	Late        bool           `db:"late"`
}

func newAttemptRow(a quiz.Attempt) (attemptRow, error) {
	answers := a.Answers
	if answers == nil {
		answers = map[string]int{}
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return attemptRow{}, errors.Wrap(err, "encoding answers")
	}
	return attemptRow{
		ID:          a.ID,
		QuizID:      a.QuizID,
		UserID:      a.UserID,
		StartedAt:   a.StartedAt.UTC(),
		SubmittedAt: null.TimeFromPtr(a.SubmittedAt),
		Answers:     types.JSONText(data),
		Score:       a.Score,
		MaxScore:    a.MaxScore,
		Percentage:  a.Percentage,
		Passed:      a.Passed,
		Late:        a.Late,
	}, nil
}

func (r attemptRow) attempt() (quiz.Attempt, error) {
	a := quiz.Attempt{
		ID:         r.ID,
		QuizID:     r.QuizID,
		UserID:     r.UserID,
		StartedAt:  r.StartedAt.UTC(),
		Answers:    map[string]int{},
		Score:      r.Score,
		MaxScore:   r.MaxScore,
		Percentage: r.Percentage,
		Passed:     r.Passed,
		Late:       r.Late,
	}
	if r.SubmittedAt.Valid {
		submittedAt := r.SubmittedAt.Time.UTC()
		a.SubmittedAt = &submittedAt
	}
	if err := r.Answers.Unmarshal(&a.Answers); err != nil {
		return quiz.Attempt{}, errors.Wrap(err, "decoding answers")
	}
	return a, nil
}

type quizRepository struct {
	db *sqlx.DB
}

var _ quiz.Repository = (*quizRepository)(nil)

func NewQuizRepository(db *sqlx.DB) quiz.Repository {
	return &quizRepository{db: db}
}

func quizValues(qz quiz.Quiz) map[string]interface{} {
	return map[string]interface{}{
		"batch_id":          qz.BatchID,
		"title":             qz.Title,
		"description":       qz.Description,
		"time_limit":        qz.TimeLimit,
		"passing_score":     qz.PassingScore,
		"max_attempts":      qz.MaxAttempts,
		"shuffle_questions": qz.ShuffleQuestions,
		"shuffle_options":   qz.ShuffleOptions,
		"is_published":      qz.IsPublished,
		"created_by":        null.NewString(qz.CreatedBy, qz.CreatedBy != ""),
		"updated_at":        qz.UpdatedAt.UTC(),
	}
}

// replaceQuestions replaces the quiz questions inside tx.
func replaceQuestions(ctx context.Context, tx *sqlx.Tx, qz quiz.Quiz) error {
	if _, err := execQuery(ctx, tx, psql.Delete(questionsTable).Where(sq.Eq{"quiz_id": qz.ID})); err != nil {
		return errors.Wrap(err, "deleting questions")
	}
	if len(qz.Questions) == 0 {
		return nil
	}
	query := psql.Insert(questionsTable).Columns(questionColumns...)
	for _, q := range qz.Questions {
		query = query.Values(q.ID, qz.ID, q.Position, q.Prompt, pq.StringArray(q.Options), q.CorrectIndex, q.Points)
	}
	_, err := execQuery(ctx, tx, query)
	return errors.Wrap(err, "inserting questions")
}

func (repo *quizRepository) CreateQuiz(ctx context.Context, qz quiz.Quiz) (quiz.Quiz, error) {
	qz.ID = uuid.NewString()
	values := quizValues(qz)
	values["id"] = qz.ID
	values["created_at"] = qz.CreatedAt.UTC()

	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if _, err := execQuery(ctx, tx, psql.Insert(quizzesTable).SetMap(values)); err != nil {
			return errors.Wrap(err, "inserting quiz")
		}
		return replaceQuestions(ctx, tx, qz)
	})
	if err != nil {
		return quiz.Quiz{}, err
	}
	return qz, nil
}

func (repo *quizRepository) QueryQuizzes(ctx context.Context, filter *quiz.QueryFilter, ordering []core.DBOrdering) ([]quiz.Quiz, error) {
	query := psql.Select(quizColumns...).From(quizzesTable)
	if filter != nil {
		if filter.BatchIDs != nil {
			query = query.Where(sq.Eq{"batch_id": validUUIDs(filter.BatchIDs)})
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			query = query.Where(sq.Or{sq.ILike{"title": val}, sq.ILike{"description": val}})
		}
		if filter.IsPublished != nil {
			query = query.Where(sq.Eq{"is_published": *filter.IsPublished})
		}
	}
	query = orderBy(query, ordering, quizOrderings, "created_at DESC")

	var rows []quizRow
	if err := selectRows(ctx, repo.db, &rows, query); err != nil {
		return nil, errors.Wrap(err, "querying quizzes")
	}
	quizzes := make([]quiz.Quiz, 0, len(rows))
	for _, r := range rows {
		quizzes = append(quizzes, r.quiz())
	}
	return quizzes, nil
}

func (repo *quizRepository) GetQuiz(ctx context.Context, id string) (quiz.Quiz, error) {
	if !isUUID(id) {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	var row quizRow
	if err := getRow(ctx, repo.db, &row, psql.Select(quizColumns...).From(quizzesTable).Where(sq.Eq{"id": id})); err != nil {
		return quiz.Quiz{}, trapNoRowsErr(err, quiz.ErrNotFound, "finding quiz")
	}

	var qRows []questionRow
	query := psql.Select(questionColumns...).From(questionsTable).Where(sq.Eq{"quiz_id": id}).OrderBy("position")
	if err := selectRows(ctx, repo.db, &qRows, query); err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "querying questions")
	}

	qz := row.quiz()
	qz.Questions = make([]quiz.Question, 0, len(qRows))
	for _, r := range qRows {
		qz.Questions = append(qz.Questions, quiz.Question{
			ID:           r.ID,
			Position:     r.Position,
			Prompt:       r.Prompt,
			Options:      r.Options,
			CorrectIndex: r.CorrectIndex,
			Points:       r.Points,
		})
	}
	return qz, nil
}

func (repo *quizRepository) UpdateQuiz(ctx context.Context, qz quiz.Quiz) (quiz.Quiz, error) {
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		cnt, err := execQuery(ctx, tx, psql.Update(quizzesTable).SetMap(quizValues(qz)).Where(sq.Eq{"id": qz.ID}))
		if err != nil {
			return errors.Wrap(err, "updating quiz")
		}
		if cnt == 0 {
			return quiz.ErrNotFound
		}
		return replaceQuestions(ctx, tx, qz)
	})
	if err != nil {
		return quiz.Quiz{}, err
	}
	return qz, nil
}

func (repo *quizRepository) DeleteQuizzesByID(ctx context.Context, ids []string) (int, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	cnt, err := execQuery(ctx, repo.db, psql.Delete(quizzesTable).Where(sq.Eq{"id": ids}))
	if err != nil {
		return 0, errors.Wrap(err, "deleting quizzes")
	}
	return cnt, nil
}

// CreateAttempt locks the quiz row while counting the user's attempts when maxAttempts is set.
func (repo *quizRepository) CreateAttempt(ctx context.Context, a quiz.Attempt, maxAttempts int) (quiz.Attempt, error) {
	a.ID = uuid.NewString()
	row, err := newAttemptRow(a)
	if err != nil {
		return quiz.Attempt{}, err
	}
	query := psql.Insert(attemptsTable).Columns(attemptColumns...).Values(
		row.ID, row.QuizID, row.UserID, row.StartedAt, row.SubmittedAt, row.Answers,
		row.Score, row.MaxScore, row.Percentage, row.Passed, row.Late,
	)
	err = inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if maxAttempts > 0 {
			var quizID string
			if err := getRow(ctx, tx, &quizID, lockQuizQuery(a.QuizID)); err != nil {
				return trapNoRowsErr(err, quiz.ErrNotFound, "locking quiz")
			}
			var taken int
			if err := getRow(ctx, tx, &taken, attemptCountQuery(a.QuizID, a.UserID)); err != nil {
				return errors.Wrap(err, "counting attempts")
			}
			if taken >= maxAttempts {
				return quiz.ErrNoAttemptsLeft
			}
		}
		_, err := execQuery(ctx, tx, query)
		return errors.Wrap(err, "inserting attempt")
	})
	if err != nil {
		return quiz.Attempt{}, err
	}
	return a, nil
}

func lockQuizQuery(quizID string) sq.SelectBuilder {
	return psql.Select("id").From(quizzesTable).Where(sq.Eq{"id": quizID}).Suffix("FOR UPDATE")
}

func attemptCountQuery(quizID, userID string) sq.SelectBuilder {
	return psql.Select("COUNT(*)").From(attemptsTable).Where(sq.Eq{"quiz_id": quizID, "user_id": userID})
}

func (repo *quizRepository) GetAttempt(ctx context.Context, id string) (quiz.Attempt, error) {
	if !isUUID(id) {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	var row attemptRow
	if err := getRow(ctx, repo.db, &row, psql.Select(attemptColumns...).From(attemptsTable).Where(sq.Eq{"id": id})); err != nil {
		return quiz.Attempt{}, trapNoRowsErr(err, quiz.ErrAttemptNotFound, "finding attempt")
	}
	return row.attempt()
}

func (repo *quizRepository) QueryAttempts(ctx context.Context, filter *quiz.AttemptFilter) ([]quiz.Attempt, error) {
	query := psql.Select(attemptColumns...).From(attemptsTable).OrderBy("started_at")
	if filter != nil {
		if filter.QuizID != "" {
			query = query.Where(sq.Eq{"quiz_id": filter.QuizID})
		}
		if filter.UserID != "" {
			query = query.Where(sq.Eq{"user_id": filter.UserID})
		}
		if filter.Submitted != nil {
			if *filter.Submitted {
				query = query.Where(sq.NotEq{"submitted_at": nil})
			} else {
				query = query.Where(sq.Eq{"submitted_at": nil})
			}
		}
	}

	var rows []attemptRow
	if err := selectRows(ctx, repo.db, &rows, query); err != nil {
		return nil, errors.Wrap(err, "querying attempts")
	}
	attempts := make([]quiz.Attempt, 0, len(rows))
	for _, r := range rows {
		a, err := r.attempt()
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

func (repo *quizRepository) UpdateAttempt(ctx context.Context, a quiz.Attempt) (quiz.Attempt, error) {
	row, err := newAttemptRow(a)
	if err != nil {
		return quiz.Attempt{}, err
	}
	query := psql.Update(attemptsTable).SetMap(map[string]interface{}{
		"submitted_at": row.SubmittedAt,
		"answers":      row.Answers,
		"score":        row.Score,
		"max_score":    row.MaxScore,
		"percentage":   row.Percentage,
		"passed":       row.Passed,
		"late":         row.Late,
	}).Where(sq.Eq{"id": row.ID})

	cnt, err := execQuery(ctx, repo.db, query)
	if err != nil {
		return quiz.Attempt{}, errors.Wrap(err, "updating attempt")
	}
	if cnt == 0 {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	return a, nil
}
