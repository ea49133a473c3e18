package echoapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/evaluation"
)

func evaluationBody(batchID, traineeID, kind, scores string) []byte {
	return []byte(`{"batch_id": "` + batchID + `", "trainee_id": "` + traineeID + `", "kind": "` + kind +
		`", "title": "Mock call #1", "evaluated_at": "2026-03-10T15:00:00Z", "scores": ` + scores + `}`)
}

const mockCallScores = `[{"criterion": "Greeting", "weight": 1, "score": 90}, {"criterion": "Resolution", "weight": 3, "score": 70}]`

func Test_evaluationApi(t *testing.T) {
	env := setup(t)
	p := env.createPeople(t)
	w1 := env.createBatch(t, "Wave 1", p.trainer.ID, batch.StatusNesting, p.ann.ID, p.bob.ID)

	trainerToken := env.getToken(t, p.trainer)
	annToken := env.getToken(t, p.ann)
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})
	notFound := marchallObj(t, httpErr{Error: "not found"})

	runHTTPTests(t, env, []httpTest{
		{
			name: "Trainee cannot evaluate", method: http.MethodPost, path: "/v1/evaluations", token: annToken,
			body: evaluationBody(w1.ID, p.bob.ID, "mock_call", mockCallScores), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "Other trainer", method: http.MethodPost, path: "/v1/evaluations", token: env.getToken(t, p.otherTrainer),
			body: evaluationBody(w1.ID, p.ann.ID, "mock_call", mockCallScores), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "Not enrolled", method: http.MethodPost, path: "/v1/evaluations", token: trainerToken,
			body: evaluationBody(w1.ID, p.cid.ID, "mock_call", mockCallScores), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"trainee_id": evaluation.ErrNotEnrolled.Error()}),
		},
		{
			name: "Invalid kind", method: http.MethodPost, path: "/v1/evaluations", token: trainerToken,
			body: evaluationBody(w1.ID, p.ann.ID, "karaoke", mockCallScores), wantCode: http.StatusBadRequest,
		},
		{
			name: "Score out of range", method: http.MethodPost, path: "/v1/evaluations", token: trainerToken,
			body: evaluationBody(w1.ID, p.ann.ID, "mock_call", `[{"criterion": "Greeting", "score": 120}]`), wantCode: http.StatusBadRequest,
		},
		{
			name: "No scores", method: http.MethodPost, path: "/v1/evaluations", token: trainerToken,
			body: evaluationBody(w1.ID, p.ann.ID, "mock_call", `[]`), wantCode: http.StatusBadRequest,
		},
	})

	rec := env.do(httpTest{method: http.MethodPost, path: "/v1/evaluations", token: trainerToken, body: evaluationBody(w1.ID, p.ann.ID, "Mock_Call", mockCallScores)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var annEval evaluation.Evaluation
	unmarshal(t, rec, &annEval)
	assert.Equal(t, evaluation.KindMockCall, annEval.Kind)
	assert.Equal(t, p.trainer.ID, annEval.EvaluatorID)
	assert.Equal(t, 75.0, annEval.Overall)
	assert.False(t, annEval.Passed)

	rec = env.do(httpTest{
		method: http.MethodPost, path: "/v1/evaluations", token: env.getToken(t, p.admin),
		body: evaluationBody(w1.ID, p.bob.ID, "soft_skills", `[{"criterion": "Empathy", "score": 95}]`),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var bobEval evaluation.Evaluation
	unmarshal(t, rec, &bobEval)
	assert.True(t, bobEval.Passed)

	path := "/v1/evaluations/" + annEval.ID
	runHTTPTests(t, env, []httpTest{
		{name: "Trainee reads own", path: path, token: annToken, wantData: marchallObj(t, annEval)},
		{name: "Trainer reads", path: path, token: trainerToken, wantData: marchallObj(t, annEval)},
		{name: "Other trainee", path: path, token: env.getToken(t, p.bob), wantCode: http.StatusNotFound, wantData: notFound},
		{name: "Other trainer", path: path, token: env.getToken(t, p.otherTrainer), wantCode: http.StatusNotFound, wantData: notFound},
		{name: "Unknown", path: "/v1/evaluations/nope", token: trainerToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "Trainee cannot edit", method: http.MethodPut, path: path, token: annToken, body: []byte(`{"title": "A+"}`), wantCode: http.StatusForbidden, wantData: forbidden},

		{name: "Admin lists all", path: "/v1/evaluations", token: env.getToken(t, p.admin), wantData: marchallList(t, annEval, bobEval)},
		{name: "Trainer lists batch", path: "/v1/evaluations", token: trainerToken, wantData: marchallList(t, annEval, bobEval)},
		{name: "Trainee lists own", path: "/v1/evaluations", token: annToken, wantData: marchallList(t, annEval)},
		{name: "Trainee cannot widen", path: "/v1/evaluations?trainee_id=" + p.bob.ID, token: annToken, wantData: marchallList(t, annEval)},
		{name: "Other trainer lists none", path: "/v1/evaluations", token: env.getToken(t, p.otherTrainer), wantData: marchallList(t)},
		{name: "Passed", path: "/v1/evaluations?passed=true", token: trainerToken, wantData: marchallList(t, bobEval)},
		{name: "Kind", path: "/v1/evaluations?kind=MOCK_CALL", token: trainerToken, wantData: marchallList(t, annEval)},
	})

	t.Run("Update", func(t *testing.T) {
		rec := env.do(httpTest{
			method: http.MethodPut, path: path, token: trainerToken,
			body: []byte(`{"comments": " Much better ", "scores": [{"criterion": "Greeting", "score": 90}, {"criterion": "Resolution", "score": 80}]}`),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated evaluation.Evaluation
		unmarshal(t, rec, &updated)
		assert.Equal(t, "Mock call #1", updated.Title)
		assert.Equal(t, "Much better", updated.Comments)
		assert.Equal(t, 85.0, updated.Overall)
		assert.True(t, updated.Passed)
		assert.True(t, annEval.EvaluatedAt.Equal(updated.EvaluatedAt))
	})

	t.Run("Delete", func(t *testing.T) {
		rec := env.do(httpTest{method: http.MethodDelete, path: path, token: trainerToken})
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		rec = env.do(httpTest{path: path, token: trainerToken})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
