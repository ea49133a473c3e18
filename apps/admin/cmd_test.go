package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/attendance"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/dashboard"
	"github.com/cohortly/cohortly/core/evaluation"
	"github.com/cohortly/cohortly/core/quiz"
	"github.com/cohortly/cohortly/core/user"
	emailsvc "github.com/cohortly/cohortly/services/email"
	inmemdb "github.com/cohortly/cohortly/storage/database/inmem"
	"github.com/cohortly/cohortly/testutil"
)

type testEnv struct {
	cli       *commandLine
	usrRepo   user.Repository
	batchRepo batch.Repository
	attRepo   attendance.Repository
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	conf := core.NewTestConfig()
	logger := testutil.NopLogger{}
	validate, _ := testutil.NewValidator()

	// set up DB & repos
	db := inmemdb.Open()
	env := &testEnv{
		usrRepo:   inmemdb.NewUserRepository(db),
		batchRepo: inmemdb.NewBatchRepository(db),
		attRepo:   inmemdb.NewAttendanceRepository(db),
	}

	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewService(env.usrRepo, mailSvc, conf)
	batchSvc := batch.NewService(env.batchRepo, usrSvc, mailSvc)
	quizSvc := quiz.NewService(inmemdb.NewQuizRepository(db), batchSvc, conf)
	attSvc := attendance.NewService(env.attRepo, batchSvc, usrSvc)
	evalSvc := evaluation.NewService(inmemdb.NewEvaluationRepository(db), batchSvc, conf)

	// start CLI
	env.cli = &commandLine{
		usrRepo:  env.usrRepo,
		usrSvc:   usrSvc,
		quizSvc:  quizSvc,
		dashSvc:  dashboard.NewService(batchSvc, usrSvc, attSvc, quizSvc, evalSvc, conf),
		validate: validate,
	}
	return env
}

// run executes the CLI with args (without program name) & returns its output.
func (env *testEnv) run(args ...string) (string, error) {
	cmd := env.cli.rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mockPassword(t *testing.T, pwd string) {
	t.Helper()
	orig := readPasswordFunc
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
	t.Cleanup(func() { readPasswordFunc = orig })
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.ErrorIs(t, err, tt.wantErr)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Contains(t, err.Error(), tt.wantErrStr)
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	env := setup(t)

	orig := gooseRunFunc
	t.Cleanup(func() { gooseRunFunc = orig })
	var ran []string
	gooseRunFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		ran = append(ran, command)
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErrStr: "requires at least 1 arg(s)"},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "cohort", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(tt.args...)
			tt.check(t, err)
		})
	}
	assert.Len(t, ran, 11)
}

func Test_commandLine_resetPassword(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, env.usrRepo, "User", "awe", "awe@test.cd", "mdr", []string{user.RoleTrainer}, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no username", args: []string{"resetpassword"}, extra: extra{pwd: "lol"}, wantErrStr: `required flag(s) "username" not set`},
		{name: "username but no password", args: []string{"resetpassword", "--username", usr.Username}, wantErr: errEmptyPassword},
		{name: "user not found", args: []string{"resetpassword", "--username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "--username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "--username", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pwd := ""
			if ex, ok := tt.extra.(extra); ok {
				pwd = ex.pwd
			}
			mockPassword(t, pwd)

			_, err := env.run(tt.args...)
			tt.check(t, err)
			if err == nil {
				refreshed, err := env.usrRepo.GetUser(ctx, user.GetFilter{ID: usr.ID})
				require.NoError(t, err)
				assert.NoError(t, refreshed.CheckPassword(pwd))
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	testutil.CreateUser(t, env.usrRepo, "Taken", "taken", "taken@test.cd", "", []string{user.RoleTrainer}, true)
	inactive := testutil.CreateUser(t, env.usrRepo, "Old", "old", "old@test.cd", "mdr", []string{user.RoleTrainer}, false)

	tests := []cliTest{
		{name: "no email", args: []string{"adduser", "--username", "jdoe"}, wantErrStr: `required flag(s) "email" not set`},
		{name: "invalid email", args: []string{"adduser", "--username", "jdoe", "--email", "nope"}, wantErrStr: errInvalidEmail.Error()},
		{name: "email taken", args: []string{"adduser", "--username", "jdoe", "--email", "taken@test.cd"}, wantErr: user.ErrEmailExists},
	}
	mockPassword(t, "s3cret")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(tt.args...)
			tt.check(t, err)
		})
	}

	t.Run("Create trainer", func(t *testing.T) {
		out, err := env.run("adduser", "--username", " JDoe ", "--email", "JDoe@test.cd", "--name", "John Doe")
		require.NoError(t, err)
		assert.Contains(t, out, `User "jdoe" saved`)

		usr, err := env.usrRepo.GetUser(ctx, user.GetFilter{Username: "jdoe"})
		require.NoError(t, err)
		assert.Equal(t, "jdoe@test.cd", usr.Email)
		assert.Equal(t, "John Doe", usr.Name)
		assert.Equal(t, []string{user.RoleTrainer}, usr.Roles)
		assert.True(t, usr.IsActive)
		assert.NoError(t, usr.CheckPassword("s3cret"))
	})

	t.Run("Promote & reactivate", func(t *testing.T) {
		_, err := env.run("adduser", "--username", "old", "--email", "old@test.cd", "--admin")
		require.NoError(t, err)

		usr, err := env.usrRepo.GetUser(ctx, user.GetFilter{ID: inactive.ID})
		require.NoError(t, err)
		assert.Equal(t, "Old", usr.Name)
		assert.True(t, usr.IsActive)
		assert.True(t, usr.IsAdmin())
		assert.NoError(t, usr.CheckPassword("s3cret"))
	})
}

const quizYAML = `
title: " Call flow basics "
time_limit: 15
questions:
  - prompt: First thing to say?
    options: [Greeting, Hold music, Goodbye]
    correct_index: 0
  - prompt: Caller is angry. You...
    options: [Hang up, Acknowledge]
    correct_index: 1
    points: 3
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quiz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_commandLine_importQuiz(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	trainer := testutil.CreateUser(t, env.usrRepo, "Trainer", "trainer", "trainer@test.cd", "", []string{user.RoleTrainer}, true)
	testutil.CreateTrainee(t, env.usrRepo, "Ann", "ann")
	w1 := testutil.CreateBatch(t, env.batchRepo, "Wave 1", batch.StatusTraining, testutil.Date(2026, 3, 2), testutil.Date(2026, 3, 27))

	file := writeFile(t, quizYAML)
	tests := []cliTest{
		{name: "no file flag", args: []string{"importquiz", "--author", "trainer"}, wantErrStr: `required flag(s) "file" not set`},
		{name: "missing file", args: []string{"importquiz", "--file", "nope.yaml", "--author", "trainer"}, wantErrStr: "reading quiz file"},
		{name: "bad yaml", args: []string{"importquiz", "--file", writeFile(t, "title: [oops"), "--author", "trainer"}, wantErrStr: "parsing quiz file"},
		{name: "no batch", args: []string{"importquiz", "--file", file, "--author", "trainer"}, wantErrStr: "batch_id"},
		{name: "unknown author", args: []string{"importquiz", "--file", file, "--batch", w1.ID, "--author", "nobody"}, wantErr: user.ErrNotFound},
		{name: "trainee author", args: []string{"importquiz", "--file", file, "--batch", w1.ID, "--author", "ann"}, wantErrStr: "ann is not a trainer"},
		{
			name: "bad correct index", wantErrStr: quiz.ErrInvalidCorrectIndex.Error(),
			args: []string{"importquiz", "--file", writeFile(t, "title: Q\nquestions:\n  - prompt: '?'\n    options: [a, b]\n    correct_index: 2\n"), "--batch", w1.ID, "--author", "trainer"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(tt.args...)
			tt.check(t, err)
		})
	}

	out, err := env.run("importquiz", "--file", file, "--batch", w1.ID, "--author", "trainer@test.cd")
	require.NoError(t, err)
	assert.Contains(t, out, `Quiz "Call flow basics" created with 2 questions`)

	quizzes, err := env.cli.quizSvc.Query(ctx, &quiz.QueryFilter{BatchIDs: []string{w1.ID}}, nil)
	require.NoError(t, err)
	require.Len(t, quizzes, 1)
	qz, err := env.cli.quizSvc.GetByID(ctx, quizzes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, trainer.ID, qz.CreatedBy)
	assert.False(t, qz.IsPublished)
	assert.Equal(t, 15, qz.TimeLimit)
	assert.Equal(t, 4, qz.MaxScore())
	assert.Equal(t, "Acknowledge", qz.Questions[1].Options[qz.Questions[1].CorrectIndex])
}

func Test_commandLine_report(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	ann := testutil.CreateTrainee(t, env.usrRepo, "Ann", "ann")
	bob := testutil.CreateTrainee(t, env.usrRepo, "Bob", "bob")
	w1 := testutil.CreateBatch(t, env.batchRepo, "Wave 1", batch.StatusTraining, testutil.Date(2026, 3, 2), testutil.Date(2026, 3, 27), ann.ID, bob.ID)

	now := time.Now().UTC()
	_, err := env.attRepo.UpsertRecords(ctx, []attendance.Record{
		{BatchID: w1.ID, TraineeID: ann.ID, Date: testutil.Date(2026, 3, 2), Status: attendance.StatusPresent, CreatedAt: now, UpdatedAt: now},
		{BatchID: w1.ID, TraineeID: bob.ID, Date: testutil.Date(2026, 3, 2), Status: attendance.StatusAbsent, CreatedAt: now, UpdatedAt: now},
	})
	require.NoError(t, err)

	_, err = env.run("report")
	assert.EqualError(t, err, `required flag(s) "batch" not set`)

	_, err = env.run("report", "--batch", "nope")
	assert.ErrorIs(t, err, batch.ErrNotFound)

	out, err := env.run("report", "--batch", w1.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Wave 1 (training) 2026-03-02 to 2026-03-27")
	assert.Contains(t, out, "Ann")
	assert.Contains(t, out, "100.0%")
	assert.Contains(t, out, "Bob")
	assert.Contains(t, out, "0.0%")
	assert.Contains(t, out, "attendance")
}
