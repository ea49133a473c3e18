package echoapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/attendance"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/dashboard"
	"github.com/cohortly/cohortly/core/evaluation"
	"github.com/cohortly/cohortly/core/quiz"
	"github.com/cohortly/cohortly/core/user"
	appfs "github.com/cohortly/cohortly/fs"
	emailsvc "github.com/cohortly/cohortly/services/email"
	inmemdb "github.com/cohortly/cohortly/storage/database/inmem"
	"github.com/cohortly/cohortly/testutil"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testEnv struct {
	app       Server
	auth      *auth
	mail      *emailsvc.ConsoleServiceMock
	userRepo  user.Repository
	batchRepo batch.Repository
	quizRepo  quiz.Repository
	attRepo   attendance.Repository
	evalRepo  evaluation.Repository
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	conf := core.NewTestConfig()
	logger := testutil.NopLogger{}
	validate, translator := testutil.NewValidator()
	core.ParseEmailTemplates(appfs.FS, conf, logger)

	// set up DB & repos
	db := inmemdb.Open()
	env := &testEnv{
		mail:      emailsvc.NewConsoleServiceMock(conf, logger),
		userRepo:  inmemdb.NewUserRepository(db),
		batchRepo: inmemdb.NewBatchRepository(db),
		quizRepo:  inmemdb.NewQuizRepository(db),
		attRepo:   inmemdb.NewAttendanceRepository(db),
		evalRepo:  inmemdb.NewEvaluationRepository(db),
	}

	// set up services
	usrSvc := user.NewService(env.userRepo, env.mail, conf)
	batchSvc := batch.NewService(env.batchRepo, usrSvc, env.mail)
	quizSvc := quiz.NewService(env.quizRepo, batchSvc, conf)
	attSvc := attendance.NewService(env.attRepo, batchSvc, usrSvc)
	evalSvc := evaluation.NewService(env.evalRepo, batchSvc, conf)

	// set up server
	app := NewServer(&Options{
		Conf:           conf,
		Logger:         logger,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
		UserSvc:        usrSvc,
		BatchSvc:       batchSvc,
		QuizSvc:        quizSvc,
		AttendanceSvc:  attSvc,
		EvaluationSvc:  evalSvc,
		DashboardSvc:   dashboard.NewService(batchSvc, usrSvc, attSvc, quizSvc, evalSvc, conf),
	})
	env.app = app
	env.auth = app.(*server).auth
	return env
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func (env *testEnv) do(tt httpTest) *httptest.ResponseRecorder {
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
	env.app.ServeHTTP(rec, req)
	return rec
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func (env *testEnv) getToken(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := env.auth.generateToken(env.auth.userClaims(usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("json.Unmarshal(%s) failed: %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	l1, ok1 := j1.([]interface{})
	l2, ok2 := j2.([]interface{})
	if !ok1 || !ok2 {
		return false, nil
	}
	return assert.ElementsMatch(t, l1, l2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, env *testEnv, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantCode == 0 {
				tt.wantCode = http.StatusOK
			}
			checkCodeAndData(t, tt, env.do(tt))
		})
	}
}
