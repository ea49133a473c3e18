package dashboard

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/attendance"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/evaluation"
	"github.com/cohortly/cohortly/core/quiz"
	"github.com/cohortly/cohortly/core/user"
)

var nowFunc = func() time.Time { return time.Now().UTC() }

type (
	BatchReader interface {
		GetByID(ctx context.Context, id string) (batch.Batch, error)
		Query(ctx context.Context, filter *batch.QueryFilter, ordering []core.DBOrdering) ([]batch.Batch, error)
	}

	UserReader interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		Query(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error)
	}

	AttendanceReader interface {
		Query(ctx context.Context, filter *attendance.QueryFilter) ([]attendance.Record, error)
	}

	QuizReader interface {
		Query(ctx context.Context, filter *quiz.QueryFilter, ordering []core.DBOrdering) ([]quiz.Quiz, error)
		QueryAttempts(ctx context.Context, filter *quiz.AttemptFilter) ([]quiz.Attempt, error)
	}

	EvaluationReader interface {
		Query(ctx context.Context, filter *evaluation.QueryFilter, ordering []core.DBOrdering) ([]evaluation.Evaluation, error)
	}

	Service interface {
		BatchDashboard(ctx context.Context, batchID string) (BatchDashboard, error)
		TraineeDashboard(ctx context.Context, traineeID string) (TraineeDashboard, error)
		Overview(ctx context.Context) (Overview, error)
	}

	service struct {
		batches     BatchReader
		users       UserReader
		attendance  AttendanceReader
		quizzes     QuizReader
		evaluations EvaluationReader
		thresholds  thresholds
	}

	thresholds struct {
		attendance float64
		quiz       float64
		evaluation float64
	}

	// batchData is everything recorded for a batch, optionally restricted to one trainee.
	batchData struct {
		records     []attendance.Record
		attempts    []quiz.Attempt
		evaluations []evaluation.Evaluation
	}
)

var _ Service = (*service)(nil)

func NewService(
	batches BatchReader,
	users UserReader,
	att AttendanceReader,
	quizzes QuizReader,
	evals EvaluationReader,
	conf *core.Config,
) Service {
	return &service{
		batches:     batches,
		users:       users,
		attendance:  att,
		quizzes:     quizzes,
		evaluations: evals,
		thresholds: thresholds{
			attendance: conf.Training.AttendanceThreshold,
			quiz:       float64(conf.Training.QuizPassingScore),
			evaluation: conf.Training.EvaluationPassingScore,
		},
	}
}

// collect gathers the batch data concurrently. An empty traineeID collects data for all trainees.
func (svc *service) collect(ctx context.Context, batchID, traineeID string) (batchData, error) {
	var data batchData
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		recs, err := svc.attendance.Query(ctx, &attendance.QueryFilter{BatchID: batchID, TraineeID: traineeID})
		if err != nil {
			return errors.Wrap(err, "querying attendance")
		}
		data.records = recs
		return nil
	})
	g.Go(func() error {
		evals, err := svc.evaluations.Query(ctx, &evaluation.QueryFilter{BatchIDs: []string{batchID}, TraineeID: traineeID}, nil)
		if err != nil {
			return errors.Wrap(err, "querying evaluations")
		}
		data.evaluations = evals
		return nil
	})
	g.Go(func() error {
		quizzes, err := svc.quizzes.Query(ctx, &quiz.QueryFilter{BatchIDs: []string{batchID}}, nil)
		if err != nil {
			return errors.Wrap(err, "querying quizzes")
		}
		submitted := true
		for _, qz := range quizzes {
			attempts, err := svc.quizzes.QueryAttempts(ctx, &quiz.AttemptFilter{QuizID: qz.ID, UserID: traineeID, Submitted: &submitted})
			if err != nil {
				return errors.Wrap(err, "querying attempts")
			}
			data.attempts = append(data.attempts, attempts...)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return batchData{}, err
	}
	return data, nil
}

// metrics computes the indicators of a trainee. The quiz average uses the best submitted attempt of each quiz.
func (svc *service) metrics(traineeID string, data batchData) Metrics {
	var m Metrics

	var present, late, excused, total int
	for _, rec := range data.records {
		if rec.TraineeID != traineeID {
			continue
		}
		total++
		switch rec.Status {
		case attendance.StatusPresent:
			present++
		case attendance.StatusLate:
			late++
		case attendance.StatusExcused:
			excused++
		}
	}
	if total-excused > 0 {
		m.AttendanceRate = ptr(round(attendance.Rate(present, late, total, excused), 4))
	}

	best := make(map[string]quiz.Attempt)
	for _, a := range data.attempts {
		if a.UserID != traineeID || !a.IsSubmitted() {
			continue
		}
		if b, ok := best[a.QuizID]; !ok || a.Percentage > b.Percentage {
			best[a.QuizID] = a
		}
	}
	if len(best) > 0 {
		var sum float64
		for _, a := range best {
			sum += a.Percentage
			if a.Passed {
				m.QuizzesPassed++
			}
		}
		m.QuizzesTaken = len(best)
		m.QuizAverage = ptr(round(sum/float64(len(best)), 2))
	}

	var evalSum float64
	for _, ev := range data.evaluations {
		if ev.TraineeID != traineeID {
			continue
		}
		evalSum += ev.Overall
		m.Evaluations++
	}
	if m.Evaluations > 0 {
		m.EvaluationAverage = ptr(round(evalSum/float64(m.Evaluations), 2))
	}

	m.RiskReasons = []string{}
	if m.AttendanceRate != nil && *m.AttendanceRate < svc.thresholds.attendance {
		m.RiskReasons = append(m.RiskReasons, riskAttendance)
	}
	if m.QuizAverage != nil && *m.QuizAverage < svc.thresholds.quiz {
		m.RiskReasons = append(m.RiskReasons, riskQuizzes)
	}
	if m.EvaluationAverage != nil && *m.EvaluationAverage < svc.thresholds.evaluation {
		m.RiskReasons = append(m.RiskReasons, riskEvaluation)
	}
	m.AtRisk = len(m.RiskReasons) > 0
	return m
}

func (svc *service) BatchDashboard(ctx context.Context, batchID string) (BatchDashboard, error) {
	b, err := svc.batches.GetByID(ctx, batchID)
	if err != nil {
		return BatchDashboard{}, err
	}

	var (
		trainees []user.User
		data     batchData
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(b.TraineeIDs) == 0 {
			return nil
		}
		var err error
		trainees, err = svc.users.Query(gctx, &user.QueryFilter{IDs: b.TraineeIDs}, []core.DBOrdering{{Field: "name", Ascending: true}})
		return errors.Wrap(err, "querying trainees")
	})
	g.Go(func() error {
		var err error
		data, err = svc.collect(gctx, b.ID, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return BatchDashboard{}, err
	}

	dash := BatchDashboard{Batch: b, Trainees: make([]TraineeRow, 0, len(trainees))}
	var rates, quizAvgs, evalAvgs []float64
	for _, t := range trainees {
		row := TraineeRow{TraineeID: t.ID, Name: t.Name, Metrics: svc.metrics(t.ID, data)}
		if row.AttendanceRate != nil {
			rates = append(rates, *row.AttendanceRate)
		}
		if row.QuizAverage != nil {
			quizAvgs = append(quizAvgs, *row.QuizAverage)
		}
		if row.EvaluationAverage != nil {
			evalAvgs = append(evalAvgs, *row.EvaluationAverage)
		}
		if row.AtRisk {
			dash.AtRiskCount++
		}
		dash.Trainees = append(dash.Trainees, row)
	}
	dash.AttendanceRate = mean(rates, 4)
	dash.QuizAverage = mean(quizAvgs, 2)
	dash.EvaluationAverage = mean(evalAvgs, 2)
	return dash, nil
}

func (svc *service) TraineeDashboard(ctx context.Context, traineeID string) (TraineeDashboard, error) {
	trainee, err := svc.users.GetByID(ctx, traineeID)
	if err != nil {
		return TraineeDashboard{}, err
	}
	batches, err := svc.batches.Query(ctx, &batch.QueryFilter{TraineeID: traineeID}, []core.DBOrdering{{Field: "start_date"}})
	if err != nil {
		return TraineeDashboard{}, errors.Wrap(err, "querying batches")
	}

	rows := make([]BatchRow, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			data, err := svc.collect(gctx, b.ID, traineeID)
			if err != nil {
				return err
			}
			rows[i] = BatchRow{BatchID: b.ID, BatchName: b.Name, Status: b.Status, Metrics: svc.metrics(traineeID, data)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return TraineeDashboard{}, err
	}
	return TraineeDashboard{TraineeID: trainee.ID, Name: trainee.Name, Batches: rows}, nil
}

func (svc *service) Overview(ctx context.Context) (Overview, error) {
	batches, err := svc.batches.Query(ctx, &batch.QueryFilter{}, []core.DBOrdering{{Field: "end_date", Ascending: true}})
	if err != nil {
		return Overview{}, errors.Wrap(err, "querying batches")
	}

	now := nowFunc()
	today := core.Date(now)
	horizon := today.AddDate(0, 0, endingSoonDays)
	ov := Overview{
		BatchesByStatus: make(map[batch.Status]int, len(batch.Statuses)),
		EndingSoon:      []batch.Batch{},
		GeneratedAt:     now,
	}
	for _, st := range batch.Statuses {
		ov.BatchesByStatus[st] = 0
	}

	active := make(map[string]struct{})
	for _, b := range batches {
		ov.BatchesByStatus[b.Status]++
		if b.Status.IsTerminal() {
			continue
		}
		for _, tid := range b.TraineeIDs {
			active[tid] = struct{}{}
		}
		end := core.Date(b.EndDate)
		if !end.Before(today) && !end.After(horizon) {
			ov.EndingSoon = append(ov.EndingSoon, b)
		}
	}
	ov.ActiveTrainees = len(active)
	sort.SliceStable(ov.EndingSoon, func(i, j int) bool { return ov.EndingSoon[i].EndDate.Before(ov.EndingSoon[j].EndDate) })
	return ov, nil
}

func mean(values []float64, places int) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return ptr(round(sum/float64(len(values)), places))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func ptr(v float64) *float64 {
	return &v
}
