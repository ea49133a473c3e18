package attendance

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cohortly/cohortly/core"
)

type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
	StatusExcused Status = "excused"
)

var Statuses = []Status{StatusPresent, StatusLate, StatusAbsent, StatusExcused}

func (s Status) IsValid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// Record is the attendance of a trainee on a training day. There is at most one per (batch, trainee, date).
type Record struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batch_id"`
	TraineeID  string    `json:"trainee_id"`
	Date       time.Time `json:"date"`
	Status     Status    `json:"status"`
	Remarks    string    `json:"remarks"`
	RecordedBy string    `json:"recorded_by"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

type Entry struct {
	TraineeID string `json:"trainee_id" validate:"required,uuid"`
	Status    Status `json:"status" validate:"required,attendancestatus"`
	Remarks   string `json:"remarks" validate:"max=500"`
}

// Sheet is the attendance of a batch for one day.
type Sheet struct {
	Date    time.Time `json:"date" validate:"required"`
	Entries []Entry   `json:"entries" validate:"required,min=1,dive"`
}

func (s *Sheet) Validate(validate *validator.Validate) error {
	s.Date = core.Date(s.Date)
	for i := range s.Entries {
		s.Entries[i].TraineeID = core.CleanString(s.Entries[i].TraineeID)
		s.Entries[i].Status = Status(core.CleanString(string(s.Entries[i].Status), true /* lower */))
		s.Entries[i].Remarks = core.CleanString(s.Entries[i].Remarks)
	}
	return validate.Struct(s)
}

type QueryFilter struct {
	BatchID   string    `query:"batch_id"`
	TraineeID string    `query:"trainee_id"`
	From      time.Time `query:"from"`
	To        time.Time `query:"to"`
	Statuses  []string  `query:"status" validate:"omitempty,dive,attendancestatus"`
}

func (qf *QueryFilter) Validate(validate *validator.Validate) error {
	qf.BatchID = core.CleanString(qf.BatchID)
	qf.TraineeID = core.CleanString(qf.TraineeID)
	qf.Statuses = core.CleanStrings(qf.Statuses, true /* lower */)
	return validate.Struct(qf)
}

// Summary aggregates the attendance of a trainee.
type Summary struct {
	TraineeID string  `json:"trainee_id"`
	Present   int     `json:"present"`
	Late      int     `json:"late"`
	Absent    int     `json:"absent"`
	Excused   int     `json:"excused"`
	Total     int     `json:"total"`
	Rate      float64 `json:"rate"` // 0..1
}

func (s *Summary) add(status Status) {
	switch status {
	case StatusPresent:
		s.Present++
	case StatusLate:
		s.Late++
	case StatusAbsent:
		s.Absent++
	case StatusExcused:
		s.Excused++
	}
	s.Total++
	s.Rate = Rate(s.Present, s.Late, s.Total, s.Excused)
}

// Rate is the share of attended days among countable ones: excused days do not count.
// It is 0 when there is nothing to count.
func Rate(present, late, total, excused int) float64 {
	countable := total - excused
	if countable <= 0 {
		return 0
	}
	return float64(present+late) / float64(countable)
}
