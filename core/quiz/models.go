package quiz

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cohortly/cohortly/core"
)

type Question struct {
	ID           string   `json:"id"`
	Position     int      `json:"position"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Points       int      `json:"points"`
}

type Quiz struct {
	ID               string     `json:"id"`
	BatchID          string     `json:"batch_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	TimeLimit        int        `json:"time_limit"`    // minutes; 0: none
	PassingScore     int        `json:"passing_score"` // percent
	MaxAttempts      int        `json:"max_attempts"`  // 0: unlimited
	ShuffleQuestions bool       `json:"shuffle_questions"`
	ShuffleOptions   bool       `json:"shuffle_options"`
	IsPublished      bool       `json:"is_published"`
	Questions        []Question `json:"questions,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"` // UTC
	UpdatedAt        time.Time  `json:"updated_at"` // UTC
}

func (q Quiz) MaxScore() int {
	var max int
	for _, qn := range q.Questions {
		max += qn.Points
	}
	return max
}

func (q Quiz) timeLimit() time.Duration {
	return time.Duration(q.TimeLimit) * time.Minute
}

// DeliveredQuestion is a Question as shown to a trainee: options in delivery order, without the answer.
type DeliveredQuestion struct {
	ID       string   `json:"id"`
	Position int      `json:"position"`
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
	Points   int      `json:"points"`
}

// Delivery is what a trainee receives when starting (or resuming) an Attempt.
type Delivery struct {
	Attempt     Attempt             `json:"attempt"`
	QuizID      string              `json:"quiz_id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	TimeLimit   int                 `json:"time_limit"`
	Deadline    *time.Time          `json:"deadline"`
	Questions   []DeliveredQuestion `json:"questions"`
}

type Attempt struct {
	ID          string         `json:"id"`
	QuizID      string         `json:"quiz_id"`
	UserID      string         `json:"user_id"`
	StartedAt   time.Time      `json:"started_at"` // UTC
	SubmittedAt *time.Time     `json:"submitted_at"`
	Answers     map[string]int `json:"answers"` // question ID -> selected option index, in delivery order
	Score       int            `json:"score"`
	MaxScore    int            `json:"max_score"`
	Percentage  float64        `json:"percentage"`
	Passed      bool           `json:"passed"`
	Late        bool           `json:"late"`
}

func (a Attempt) IsSubmitted() bool {
	return a.SubmittedAt != nil
}

// NewQuestion contains information needed to add a Question to a Quiz.
type NewQuestion struct {
	Prompt       string   `json:"prompt" yaml:"prompt" validate:"required"`
	Options      []string `json:"options" yaml:"options" validate:"required,min=2,max=26,dive,required"`
	CorrectIndex int      `json:"correct_index" yaml:"correct_index" validate:"gte=0"`
	Points       int      `json:"points" yaml:"points" validate:"gte=0"`
}

func (nq *NewQuestion) clean() {
	nq.Prompt = core.CleanString(nq.Prompt)
	for i := range nq.Options {
		nq.Options[i] = core.CleanString(nq.Options[i])
	}
	if nq.Points == 0 {
		nq.Points = 1
	}
}

// NewQuiz contains information needed to create a new Quiz.
type NewQuiz struct {
	BatchID          string        `json:"batch_id" yaml:"batch_id" validate:"required,uuid"`
	Title            string        `json:"title" yaml:"title" validate:"required,max=255"`
	Description      string        `json:"description" yaml:"description"`
	TimeLimit        int           `json:"time_limit" yaml:"time_limit" validate:"gte=0"`
	PassingScore     int           `json:"passing_score" yaml:"passing_score" validate:"percent"`
	MaxAttempts      int           `json:"max_attempts" yaml:"max_attempts" validate:"gte=0"`
	ShuffleQuestions *bool         `json:"shuffle_questions" yaml:"shuffle_questions"`
	ShuffleOptions   *bool         `json:"shuffle_options" yaml:"shuffle_options"`
	Questions        []NewQuestion `json:"questions" yaml:"questions" validate:"dive"`
}

func (nq *NewQuiz) Validate(validate *validator.Validate) error {
	nq.BatchID = core.CleanString(nq.BatchID)
	nq.Title = core.CleanString(nq.Title)
	nq.Description = core.CleanString(nq.Description)
	for i := range nq.Questions {
		nq.Questions[i].clean()
	}
	return validate.Struct(nq)
}

// UpdateQuiz defines what information may be provided to modify an existing Quiz.
// Questions replace the existing ones & can only be changed while the quiz is unpublished.
type UpdateQuiz struct {
	Title            string        `json:"title" validate:"max=255"`
	Description      *string       `json:"description"`
	TimeLimit        *int          `json:"time_limit" validate:"omitempty,gte=0"`
	PassingScore     *int          `json:"passing_score" validate:"omitempty,percent"`
	MaxAttempts      *int          `json:"max_attempts" validate:"omitempty,gte=0"`
	ShuffleQuestions *bool         `json:"shuffle_questions"`
	ShuffleOptions   *bool         `json:"shuffle_options"`
	Questions        []NewQuestion `json:"questions" validate:"omitempty,dive"`
}

func (uq *UpdateQuiz) Validate(validate *validator.Validate) error {
	uq.Title = core.CleanString(uq.Title)
	for i := range uq.Questions {
		uq.Questions[i].clean()
	}
	return validate.Struct(uq)
}

// Submission holds a trainee's answers: question ID -> selected option index, in delivery order.
type Submission struct {
	Answers map[string]int `json:"answers" validate:"required"`
}

func (s *Submission) Validate(validate *validator.Validate) error {
	return validate.Struct(s)
}

type QueryFilter struct {
	BatchIDs    []string `query:"batch_id"`
	Search      string   `query:"search"`
	IsPublished *bool    `query:"is_published"`
}

func (qf *QueryFilter) Clean() {
	qf.BatchIDs = core.CleanStrings(qf.BatchIDs)
	qf.Search = core.CleanString(qf.Search)
}

type AttemptFilter struct {
	QuizID    string `query:"quiz_id"`
	UserID    string `query:"user_id"`
	Submitted *bool  `query:"submitted"`
}
