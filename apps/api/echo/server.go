package echoapi

import (
	"context"
	"net/http"
	"os"
	"strings"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/cohortly/cohortly/core"
	"github.com/cohortly/cohortly/core/attendance"
	"github.com/cohortly/cohortly/core/batch"
	"github.com/cohortly/cohortly/core/dashboard"
	"github.com/cohortly/cohortly/core/evaluation"
	"github.com/cohortly/cohortly/core/quiz"
	"github.com/cohortly/cohortly/core/user"
)

const apiPrefix = "/v1"

type (
	Options struct {
		Conf           *core.Config
		Logger         core.Logger
		Validate       *validator.Validate
		Translator     ut.Translator
		Shutdown       chan os.Signal
		DisableReqLogs bool

		UserSvc       user.Service
		BatchSvc      batch.Service
		QuizSvc       quiz.Service
		AttendanceSvc attendance.Service
		EvaluationSvc evaluation.Service
		DashboardSvc  dashboard.Service
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
		auth *auth
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
		auth: newAuth(opts.Conf),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.opts.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	// the SPA build handles every non-API route
	if conf.Server.StaticDir != "" {
		s.app.Use(middleware.StaticWithConfig(middleware.StaticConfig{
			Root:  conf.Server.StaticDir,
			HTML5: true,
			Skipper: func(ctx echo.Context) bool {
				return strings.HasPrefix(ctx.Request().URL.Path, apiPrefix)
			},
		}))
	} else {
		s.app.GET("/", s.home)
	}

	v1 := s.app.Group(apiPrefix)
	jwt := s.auth.middleware()

	registerUserAPI(v1, jwt, &userApi{
		svc:      s.opts.UserSvc,
		auth:     s.auth,
		logger:   s.opts.Logger,
		validate: s.opts.Validate,
	})
	bg := registerBatchAPI(v1, jwt, &batchApi{
		svc:      s.opts.BatchSvc,
		usrSvc:   s.opts.UserSvc,
		validate: s.opts.Validate,
	})
	registerAttendanceAPI(bg, &attendanceApi{
		svc:      s.opts.AttendanceSvc,
		usrSvc:   s.opts.UserSvc,
		validate: s.opts.Validate,
	})
	registerQuizAPI(v1, jwt, &quizApi{
		svc:      s.opts.QuizSvc,
		batchSvc: s.opts.BatchSvc,
		usrSvc:   s.opts.UserSvc,
		validate: s.opts.Validate,
	})
	registerEvaluationAPI(v1, jwt, &evaluationApi{
		svc:      s.opts.EvaluationSvc,
		batchSvc: s.opts.BatchSvc,
		usrSvc:   s.opts.UserSvc,
		validate: s.opts.Validate,
	})
	registerDashboardAPI(v1, bg, jwt, &dashboardApi{
		svc:    s.opts.DashboardSvc,
		usrSvc: s.opts.UserSvc,
	})
}

// signalShutdown asks the main goroutine to gracefully shut the server down.
func (s *server) signalShutdown() {
	if s.opts.Shutdown != nil {
		s.opts.Shutdown <- syscall.SIGTERM
	}
}

func (s *server) Start() error {
	return s.app.Start(s.opts.Conf.Server.Address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.opts.Conf.AppName+" API!")
}
