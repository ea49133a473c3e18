package quiz

import "math"

// Result is the outcome of grading answers against a delivered quiz.
type Result struct {
	Score      int
	MaxScore   int
	Percentage float64
	Passed     bool
}

// Grade scores answers (question ID -> option index, in delivery order) against the delivered quiz.
// Unanswered questions score 0.
func Grade(delivered Quiz, answers map[string]int) Result {
	var res Result
	for _, q := range delivered.Questions {
		res.MaxScore += q.Points
		if sel, ok := answers[q.ID]; ok && len(q.Options) > 0 && sel == q.CorrectIndex {
			res.Score += q.Points
		}
	}
	if res.MaxScore > 0 {
		res.Percentage = math.Round(float64(res.Score)*10000/float64(res.MaxScore)) / 100
	}
	res.Passed = res.MaxScore > 0 && res.Percentage >= float64(delivered.PassingScore)
	return res
}

func deliver(delivered Quiz, attempt Attempt) Delivery {
	dv := Delivery{
		Attempt:     attempt,
		QuizID:      delivered.ID,
		Title:       delivered.Title,
		Description: delivered.Description,
		TimeLimit:   delivered.TimeLimit,
		Questions:   make([]DeliveredQuestion, len(delivered.Questions)),
	}
	if delivered.TimeLimit > 0 {
		deadline := attempt.StartedAt.Add(delivered.timeLimit())
		dv.Deadline = &deadline
	}
	for i, q := range delivered.Questions {
		dv.Questions[i] = DeliveredQuestion{
			ID:       q.ID,
			Position: q.Position,
			Prompt:   q.Prompt,
			Options:  q.Options,
			Points:   q.Points,
		}
	}
	return dv
}
