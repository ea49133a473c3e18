package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/quiz"
)

var quizOrderings = map[string]comparator[quiz.Quiz]{
	"title":      func(a, b quiz.Quiz) int { return compareFolded(a.Title, b.Title) },
	"created_at": func(a, b quiz.Quiz) int { return compareTimes(a.CreatedAt, b.CreatedAt) },
	"updated_at": func(a, b quiz.Quiz) int { return compareTimes(a.UpdatedAt, b.UpdatedAt) },
}

type quizRepository struct {
	quizzes  *table[quiz.Quiz]
	attempts *table[quiz.Attempt]
}

var _ quiz.Repository = (*quizRepository)(nil)

func NewQuizRepository(db *DB) quiz.Repository {
	return &quizRepository{quizzes: db.quiz, attempts: db.attempt}
}

func copyQuiz(qz quiz.Quiz) quiz.Quiz {
	if qz.Questions != nil {
		questions := make([]quiz.Question, len(qz.Questions))
		for i, q := range qz.Questions {
			q.Options = append([]string{}, q.Options...)
			questions[i] = q
		}
		qz.Questions = questions
	}
	return qz
}

func copyAttempt(a quiz.Attempt) quiz.Attempt {
	answers := make(map[string]int, len(a.Answers))
	for k, v := range a.Answers {
		answers[k] = v
	}
	a.Answers = answers
	if a.SubmittedAt != nil {
		submittedAt := *a.SubmittedAt
		a.SubmittedAt = &submittedAt
	}
	return a
}

func (repo *quizRepository) CreateQuiz(ctx context.Context, qz quiz.Quiz) (quiz.Quiz, error) {
	repo.quizzes.Lock()
	defer repo.quizzes.Unlock()

	qz.ID = uuid.NewString()
	repo.quizzes.rows[qz.ID] = copyQuiz(qz)
	return qz, nil
}

func (repo *quizRepository) QueryQuizzes(ctx context.Context, filter *quiz.QueryFilter, ordering []core.DBOrdering) ([]quiz.Quiz, error) {
	repo.quizzes.RLock()
	defer repo.quizzes.RUnlock()

	quizzes := repo.quizzes.all(func(qz quiz.Quiz) bool {
		if filter == nil {
			return true
		}
		if filter.BatchIDs != nil && !core.ContainsString(filter.BatchIDs, qz.BatchID) {
			return false
		}
		if filter.Search != "" && !containsFolded(qz.Title, filter.Search) && !containsFolded(qz.Description, filter.Search) {
			return false
		}
		return filter.IsPublished == nil || qz.IsPublished == *filter.IsPublished
	})
	for i := range quizzes {
		quizzes[i].Questions = nil
	}
	orderBy(quizzes, ordering, quizOrderings, core.DBOrdering{Field: "created_at"})
	return quizzes, nil
}

func (repo *quizRepository) GetQuiz(ctx context.Context, id string) (quiz.Quiz, error) {
	repo.quizzes.RLock()
	defer repo.quizzes.RUnlock()

	if qz, ok := repo.quizzes.rows[id]; ok {
		return copyQuiz(qz), nil
	}
	return quiz.Quiz{}, quiz.ErrNotFound
}

func (repo *quizRepository) UpdateQuiz(ctx context.Context, qz quiz.Quiz) (quiz.Quiz, error) {
	repo.quizzes.Lock()
	defer repo.quizzes.Unlock()

	if _, ok := repo.quizzes.rows[qz.ID]; !ok {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	repo.quizzes.rows[qz.ID] = copyQuiz(qz)
	return qz, nil
}

// DeleteQuizzesByID deletes the quizzes & their attempts.
func (repo *quizRepository) DeleteQuizzesByID(ctx context.Context, ids []string) (int, error) {
	count := repo.quizzes.deleteIDs(ids)

	repo.attempts.Lock()
	defer repo.attempts.Unlock()
	for id, a := range repo.attempts.rows {
		if core.ContainsString(ids, a.QuizID) {
			delete(repo.attempts.rows, id)
		}
	}
	return count, nil
}

func (repo *quizRepository) CreateAttempt(ctx context.Context, a quiz.Attempt, maxAttempts int) (quiz.Attempt, error) {
	repo.attempts.Lock()
	defer repo.attempts.Unlock()

	if maxAttempts > 0 {
		taken := 0
		for _, other := range repo.attempts.rows {
			if other.QuizID == a.QuizID && other.UserID == a.UserID {
				taken++
			}
		}
		if taken >= maxAttempts {
			return quiz.Attempt{}, quiz.ErrNoAttemptsLeft
		}
	}
	a.ID = uuid.NewString()
	repo.attempts.rows[a.ID] = copyAttempt(a)
	return a, nil
}

func (repo *quizRepository) GetAttempt(ctx context.Context, id string) (quiz.Attempt, error) {
	repo.attempts.RLock()
	defer repo.attempts.RUnlock()

	if a, ok := repo.attempts.rows[id]; ok {
		return copyAttempt(a), nil
	}
	return quiz.Attempt{}, quiz.ErrAttemptNotFound
}

func (repo *quizRepository) QueryAttempts(ctx context.Context, filter *quiz.AttemptFilter) ([]quiz.Attempt, error) {
	repo.attempts.RLock()
	defer repo.attempts.RUnlock()

	attempts := repo.attempts.all(func(a quiz.Attempt) bool {
		if filter == nil {
			return true
		}
		if filter.QuizID != "" && a.QuizID != filter.QuizID {
			return false
		}
		if filter.UserID != "" && a.UserID != filter.UserID {
			return false
		}
		return filter.Submitted == nil || a.IsSubmitted() == *filter.Submitted
	})
	for i := range attempts {
		attempts[i] = copyAttempt(attempts[i])
	}
	orderBy(attempts, nil, map[string]comparator[quiz.Attempt]{
		"started_at": func(a, b quiz.Attempt) int { return compareTimes(a.StartedAt, b.StartedAt) },
	}, core.DBOrdering{Field: "started_at", Ascending: true})
	return attempts, nil
}

func (repo *quizRepository) UpdateAttempt(ctx context.Context, a quiz.Attempt) (quiz.Attempt, error) {
	repo.attempts.Lock()
	defer repo.attempts.Unlock()

	if _, ok := repo.attempts.rows[a.ID]; !ok {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	repo.attempts.rows[a.ID] = copyAttempt(a)
	return a, nil
}
