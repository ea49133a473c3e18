package dashboard

import (
	"time"

	"github.com/cohortly/cohortly/core/batch"
)

// Metrics are the performance indicators of a trainee within a batch.
// A nil indicator means there is no data for it yet.
type Metrics struct {
	AttendanceRate    *float64 `json:"attendance_rate"`    // 0..1
	QuizAverage       *float64 `json:"quiz_average"`       // percent
	EvaluationAverage *float64 `json:"evaluation_average"` // 0..100
	QuizzesTaken      int      `json:"quizzes_taken"`
	QuizzesPassed     int      `json:"quizzes_passed"`
	Evaluations       int      `json:"evaluations"`
	AtRisk            bool     `json:"at_risk"`
	RiskReasons       []string `json:"risk_reasons"`
}

type TraineeRow struct {
	TraineeID string `json:"trainee_id"`
	Name      string `json:"name"`
	Metrics
}

type BatchDashboard struct {
	Batch             batch.Batch  `json:"batch"`
	Trainees          []TraineeRow `json:"trainees"`
	AttendanceRate    *float64     `json:"attendance_rate"`
	QuizAverage       *float64     `json:"quiz_average"`
	EvaluationAverage *float64     `json:"evaluation_average"`
	AtRiskCount       int          `json:"at_risk_count"`
}

type BatchRow struct {
	BatchID   string       `json:"batch_id"`
	BatchName string       `json:"batch_name"`
	Status    batch.Status `json:"status"`
	Metrics
}

type TraineeDashboard struct {
	TraineeID string     `json:"trainee_id"`
	Name      string     `json:"name"`
	Batches   []BatchRow `json:"batches"`
}

type Overview struct {
	BatchesByStatus map[batch.Status]int `json:"batches_by_status"`
	ActiveTrainees  int                  `json:"active_trainees"`
	EndingSoon      []batch.Batch        `json:"ending_soon"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

const (
	riskAttendance = "attendance"
	riskQuizzes    = "quizzes"
	riskEvaluation = "evaluations"

	endingSoonDays = 14
)
