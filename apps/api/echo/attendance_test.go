package echoapi

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/cohortly/core/attendance"
	"github.com/cohortly/cohortly/core/batch"
)

func sheetBody(date string, entries ...string) []byte {
	return []byte(`{"date": "` + date + `T00:00:00Z", "entries": [` + strings.Join(entries, ", ") + `]}`)
}

func entry(traineeID, status, remarks string) string {
	return `{"trainee_id": "` + traineeID + `", "status": "` + status + `", "remarks": "` + remarks + `"}`
}

func Test_attendanceApi(t *testing.T) {
	env := setup(t)
	p := env.createPeople(t)
	w1 := env.createBatch(t, "Wave 1", p.trainer.ID, batch.StatusTraining, p.ann.ID, p.bob.ID)

	path := "/v1/batches/" + w1.ID + "/attendance"
	trainerToken := env.getToken(t, p.trainer)
	annToken := env.getToken(t, p.ann)
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	runHTTPTests(t, env, []httpTest{
		{
			name: "Trainee cannot mark", method: http.MethodPost, path: path, token: annToken,
			body: sheetBody("2026-03-03", entry(p.ann.ID, "present", "")), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "Other trainer", method: http.MethodPost, path: path, token: env.getToken(t, p.otherTrainer),
			body: sheetBody("2026-03-03", entry(p.ann.ID, "present", "")), wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "Out of batch dates", method: http.MethodPost, path: path, token: trainerToken,
			body: sheetBody("2026-04-01", entry(p.ann.ID, "present", "")), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"date": attendance.ErrOutOfBatchDates.Error()}),
		},
		{
			name: "Not enrolled", method: http.MethodPost, path: path, token: trainerToken,
			body: sheetBody("2026-03-03", entry(p.ann.ID, "present", ""), entry(p.cid.ID, "present", "")), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"entries." + p.cid.ID: attendance.ErrNotEnrolled.Error()}),
		},
		{
			name: "Invalid status", method: http.MethodPost, path: path, token: trainerToken,
			body: sheetBody("2026-03-03", entry(p.ann.ID, "sleeping", "")), wantCode: http.StatusBadRequest,
		},
		{
			name: "No entries", method: http.MethodPost, path: path, token: trainerToken,
			body: sheetBody("2026-03-03"), wantCode: http.StatusBadRequest,
		},
	})

	rec := env.do(httpTest{
		method: http.MethodPost, path: path, token: trainerToken,
		body: sheetBody("2026-03-03", entry(p.ann.ID, "Present", ""), entry(p.bob.ID, "late", " traffic ")),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var marked []attendance.Record
	unmarshal(t, rec, &marked)
	require.Len(t, marked, 2)
	assert.Equal(t, attendance.StatusPresent, marked[0].Status)
	assert.Equal(t, "traffic", marked[1].Remarks)
	assert.Equal(t, p.trainer.ID, marked[1].RecordedBy)

	// the last entry wins & marking a day again updates it
	rec = env.do(httpTest{
		method: http.MethodPost, path: path, token: trainerToken,
		body: sheetBody("2026-03-04", entry(p.ann.ID, "present", ""), entry(p.ann.ID, "absent", ""), entry(p.bob.ID, "present", "")),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(httpTest{method: http.MethodPost, path: path, token: trainerToken, body: sheetBody("2026-03-04", entry(p.ann.ID, "excused", "sick note"))})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	t.Run("Query", func(t *testing.T) {
		var records []attendance.Record
		rec := env.do(httpTest{path: path, token: trainerToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		unmarshal(t, rec, &records)
		assert.Len(t, records, 4)

		rec = env.do(httpTest{path: path, token: annToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		unmarshal(t, rec, &records)
		require.Len(t, records, 2)
		for _, r := range records {
			assert.Equal(t, p.ann.ID, r.TraineeID)
		}
		assert.Equal(t, attendance.StatusExcused, records[1].Status)
		assert.Equal(t, "sick note", records[1].Remarks)

		rec = env.do(httpTest{path: path + "?status=late", token: trainerToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		unmarshal(t, rec, &records)
		require.Len(t, records, 1)
		assert.Equal(t, p.bob.ID, records[0].TraineeID)

		rec = env.do(httpTest{path: path, token: env.getToken(t, p.cid)})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Summary", func(t *testing.T) {
		annSummary := attendance.Summary{TraineeID: p.ann.ID, Present: 1, Excused: 1, Total: 2, Rate: 1}
		bobSummary := attendance.Summary{TraineeID: p.bob.ID, Present: 1, Late: 1, Total: 2, Rate: 1}
		runHTTPTests(t, env, []httpTest{
			{name: "Trainer", path: path + "/summary", token: trainerToken, wantData: marchallList(t, annSummary, bobSummary)},
			{name: "Trainee", path: path + "/summary", token: annToken, wantData: marchallList(t, annSummary)},
			{
				name: "Range", path: path + "/summary?from=2026-03-04T00:00:00Z", token: trainerToken,
				wantData: marchallList(t,
					attendance.Summary{TraineeID: p.ann.ID, Excused: 1, Total: 1},
					attendance.Summary{TraineeID: p.bob.ID, Present: 1, Total: 1, Rate: 1},
				),
			},
		})
	})

	t.Run("Export", func(t *testing.T) {
		rec := env.do(httpTest{path: path + "/export", token: annToken})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = env.do(httpTest{path: path + "/export", token: trainerToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, mimeTextCSV, rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="attendance-`+w1.ID+`.csv"`, rec.Header().Get("Content-Disposition"))

		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		require.Len(t, lines, 5)
		assert.Equal(t, "date,trainee_id,trainee_name,status,remarks,recorded_by", lines[0])
		assert.Contains(t, rec.Body.String(), "2026-03-03,"+p.bob.ID+",Bob,late,traffic,"+p.trainer.ID)
	})

	t.Run("Delete", func(t *testing.T) {
		recordPath := path + "/" + marked[0].ID
		rec := env.do(httpTest{method: http.MethodDelete, path: recordPath, token: annToken})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = env.do(httpTest{method: http.MethodDelete, path: recordPath, token: trainerToken})
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		rec = env.do(httpTest{method: http.MethodDelete, path: recordPath, token: trainerToken})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error": "attendance record not found"}`, rec.Body.String())
	})

	t.Run("Cancelled batch", func(t *testing.T) {
		w2 := env.createBatch(t, "Wave 2", p.trainer.ID, batch.StatusCancelled, p.ann.ID)
		rec := env.do(httpTest{
			method: http.MethodPost, path: "/v1/batches/" + w2.ID + "/attendance", token: trainerToken,
			body: sheetBody("2026-03-03", entry(p.ann.ID, "present", "")),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"batch_id": "batch is closed"}`, rec.Body.String())
	})
}
