package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/attendance"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/dashboard"
	"github.com/cohortly/cohortly/core/evaluation"
	"github.com/cohortly/cohortly/core/quiz"
	"github.com/cohortly/cohortly/core/user"
	emailsvc "github.com/cohortly/cohortly/services/email"
	logsvc "github.com/cohortly/cohortly/services/logger"
	"github.com/cohortly/cohortly/storage/database"
	sqlxrepos "github.com/cohortly/cohortly/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	local, err := logsvc.NewLocalLogger(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up logger: %v\n", err)
		os.Exit(1)
	}
	logger := logsvc.NewRollbarLogger(local.Named("admin"), conf)
	logger.Enable(false)

	// set up DB & repos
	db, err := database.Open(context.Background(), conf)
	if err != nil {
		logger.Fatal("Failed to open database", err)
	}

	usrRepo := sqlxrepos.NewUserRepository(db)
	mailSvc := emailsvc.NewConsoleService(conf, logger)
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	batchSvc := batch.NewService(sqlxrepos.NewBatchRepository(db), usrSvc, mailSvc)
	quizSvc := quiz.NewService(sqlxrepos.NewQuizRepository(db), batchSvc, conf)
	attSvc := attendance.NewService(sqlxrepos.NewAttendanceRepository(db), batchSvc, usrSvc)
	evalSvc := evaluation.NewService(sqlxrepos.NewEvaluationRepository(db), batchSvc, conf)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// start CLI
	cli := &commandLine{
		db:       db.DB,
		usrRepo:  usrRepo,
		usrSvc:   usrSvc,
		quizSvc:  quizSvc,
		dashSvc:  dashboard.NewService(batchSvc, usrSvc, attSvc, quizSvc, evalSvc, conf),
		validate: validate,
	}
	err = cli.rootCmd().Execute()
	mailSvc.Wait()
	_ = db.Close()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
