package evaluation

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cohortly/cohortly/core"
)

type Kind string

const (
	KindMockCall         Kind = "mock_call"
	KindProductKnowledge Kind = "product_knowledge"
	KindSoftSkills       Kind = "soft_skills"
	KindFinal            Kind = "final"
)

var Kinds = []Kind{KindMockCall, KindProductKnowledge, KindSoftSkills, KindFinal}

func (k Kind) IsValid() bool {
	for _, kd := range Kinds {
		if k == kd {
			return true
		}
	}
	return false
}

// Score is the mark (0-100) given on one criterion of an Evaluation.
type Score struct {
	Criterion string  `json:"criterion" validate:"required,max=255"`
	Weight    float64 `json:"weight" validate:"gte=0"`
	Score     float64 `json:"score" validate:"percent"`
}

type Evaluation struct {
	ID          string    `json:"id"`
	BatchID     string    `json:"batch_id"`
	TraineeID   string    `json:"trainee_id"`
	EvaluatorID string    `json:"evaluator_id"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Scores      []Score   `json:"scores"`
	Overall     float64   `json:"overall"`
	Passed      bool      `json:"passed"`
	Comments    string    `json:"comments"`
	EvaluatedAt time.Time `json:"evaluated_at"` // UTC
	CreatedAt   time.Time `json:"created_at"`   // UTC
	UpdatedAt   time.Time `json:"updated_at"`   // UTC
}

// Overall is the weighted mean of the scores, rounded to 2 decimals.
// When all weights are 0, it is the plain mean.
func Overall(scores []Score) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum, weighted, weights float64
	for _, s := range scores {
		sum += s.Score
		weighted += s.Score * s.Weight
		weights += s.Weight
	}
	mean := sum / float64(len(scores))
	if weights > 0 {
		mean = weighted / weights
	}
	return math.Round(mean*100) / 100
}

// NewEvaluation contains information needed to create a new Evaluation.
type NewEvaluation struct {
	BatchID     string    `json:"batch_id" validate:"required,uuid"`
	TraineeID   string    `json:"trainee_id" validate:"required,uuid"`
	Kind        Kind      `json:"kind" validate:"required,evaluationkind"`
	Title       string    `json:"title" validate:"required,max=255"`
	Scores      []Score   `json:"scores" validate:"required,min=1,dive"`
	Comments    string    `json:"comments"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

func (ne *NewEvaluation) Validate(validate *validator.Validate) error {
	ne.BatchID = core.CleanString(ne.BatchID)
	ne.TraineeID = core.CleanString(ne.TraineeID)
	ne.Kind = Kind(core.CleanString(string(ne.Kind), true /* lower */))
	ne.Title = core.CleanString(ne.Title)
	ne.Comments = core.CleanString(ne.Comments)
	cleanScores(ne.Scores)
	return validate.Struct(ne)
}

// UpdateEvaluation defines what information may be provided to modify an existing Evaluation.
type UpdateEvaluation struct {
	Kind        Kind      `json:"kind" validate:"omitempty,evaluationkind"`
	Title       string    `json:"title" validate:"max=255"`
	Scores      []Score   `json:"scores" validate:"omitempty,min=1,dive"`
	Comments    *string   `json:"comments"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

func (ue *UpdateEvaluation) Validate(validate *validator.Validate) error {
	ue.Kind = Kind(core.CleanString(string(ue.Kind), true /* lower */))
	ue.Title = core.CleanString(ue.Title)
	cleanScores(ue.Scores)
	return validate.Struct(ue)
}

func cleanScores(scores []Score) {
	for i := range scores {
		scores[i].Criterion = core.CleanString(scores[i].Criterion)
	}
}

type QueryFilter struct {
	BatchIDs    []string  `query:"batch_id"`
	TraineeID   string    `query:"trainee_id"`
	EvaluatorID string    `query:"evaluator_id"`
	Kinds       []string  `query:"kind" validate:"omitempty,dive,evaluationkind"`
	Passed      *bool     `query:"passed"`
	From        time.Time `query:"from"`
	To          time.Time `query:"to"`
}

func (qf *QueryFilter) Validate(validate *validator.Validate) error {
	qf.BatchIDs = core.CleanStrings(qf.BatchIDs)
	qf.TraineeID = core.CleanString(qf.TraineeID)
	qf.EvaluatorID = core.CleanString(qf.EvaluatorID)
	qf.Kinds = core.CleanStrings(qf.Kinds, true /* lower */)
	return validate.Struct(qf)
}
