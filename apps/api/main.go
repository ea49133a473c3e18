package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // /debug/pprof
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	echoapi "github.com/cohortly/cohortly/apps/api/echo"
	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/attendance"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/dashboard"
	"github.com/cohortly/cohortly/core/evaluation"
	"github.com/cohortly/cohortly/core/quiz"
	"github.com/cohortly/cohortly/core/user"
	appfs "github.com/cohortly/cohortly/fs"
	emailsvc "github.com/cohortly/cohortly/services/email"
	logsvc "github.com/cohortly/cohortly/services/logger"
	"github.com/cohortly/cohortly/storage/database"
	inmemdb "github.com/cohortly/cohortly/storage/database/inmem"
	sqlxrepos "github.com/cohortly/cohortly/storage/database/sqlx"
)

type repositories struct {
	users       user.Repository
	batches     batch.Repository
	quizzes     quiz.Repository
	attendance  attendance.Repository
	evaluations evaluation.Repository
}

func main() {
	inmem := flag.Bool("inmem", false, "use in-memory repositories instead of PostgreSQL (data is lost on exit)")
	flag.Parse()

	if err := run(*inmem); err != nil {
		log.Fatal(err)
	}
}

func run(inmem bool) error {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	local, err := logsvc.NewLocalLogger(conf)
	if err != nil {
		return errors.Wrap(err, "setting up local logger")
	}
	logger := logsvc.NewRollbarLogger(local.Named("api"), conf)
	dbLogger := logsvc.NewRollbarLogger(local.Named("db"), conf)
	defer logger.Sync()

	// set up DB & repos
	var repos repositories
	if inmem {
		logger.Warn("Using in-memory repositories")
		db := inmemdb.Open()
		repos = repositories{
			users:       inmemdb.NewUserRepository(db),
			batches:     inmemdb.NewBatchRepository(db),
			quizzes:     inmemdb.NewQuizRepository(db),
			attendance:  inmemdb.NewAttendanceRepository(db),
			evaluations: inmemdb.NewEvaluationRepository(db),
		}
	} else {
		db, err := setUpDB(conf)
		if err != nil {
			return errors.Wrap(err, "setting up database")
		}
		defer func() {
			if err := db.Close(); err != nil {
				dbLogger.Error("Failed to close", err)
			}
		}()
		repos = repositories{
			users:       sqlxrepos.NewUserRepository(db),
			batches:     sqlxrepos.NewBatchRepository(db),
			quizzes:     sqlxrepos.NewQuizRepository(db),
			attendance:  sqlxrepos.NewAttendanceRepository(db),
			evaluations: sqlxrepos.NewEvaluationRepository(db),
		}
	}

	// set up services
	var mailSvc interface {
		core.EmailService
		Wait()
	}
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	defer mailSvc.Wait()

	usrSvc := user.NewService(repos.users, mailSvc, conf)
	batchSvc := batch.NewService(repos.batches, usrSvc, mailSvc)
	quizSvc := quiz.NewService(repos.quizzes, batchSvc, conf)
	attSvc := attendance.NewService(repos.attendance, batchSvc, usrSvc)
	evalSvc := evaluation.NewService(repos.evaluations, batchSvc, conf)
	dashSvc := dashboard.NewService(batchSvc, usrSvc, attSvc, quizSvc, evalSvc, conf)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	batch.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)
	evaluation.InitValidators(validate, translator)

	core.ParseEmailTemplates(appfs.FS, conf, logger)

	user.LoadCommonPasswords(appfs.FS, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(&echoapi.Options{
		Conf:          conf,
		Logger:        logger,
		Validate:      validate,
		Translator:    translator,
		Shutdown:      shutdown,
		UserSvc:       usrSvc,
		BatchSvc:      batchSvc,
		QuizSvc:       quizSvc,
		AttendanceSvc: attSvc,
		EvaluationSvc: evalSvc,
		DashboardSvc:  dashSvc,
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("API listening on %s", conf.Server.Address))
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return errors.Wrap(err, "server error")

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shut down and shed load
		if err := server.Stop(ctx); err != nil {
			return errors.Wrap(err, "could not stop server gracefully")
		}
	}
	return nil
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	ctx := context.Background()
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
