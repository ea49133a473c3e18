package main

import (
	"database/sql"
	"errors"
	"fmt"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cohortly/cohortly/core/dashboard"
	"github.com/cohortly/cohortly/core/quiz"
	"github.com/cohortly/cohortly/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errEmptyPassword = errors.New("password must not be empty")
)

type commandLine struct {
	db       *sql.DB
	usrRepo  user.Repository
	usrSvc   user.Service
	quizSvc  quiz.Service
	dashSvc  dashboard.Service
	validate *validator.Validate
}

func (cli *commandLine) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "admin",
		Short:        "Cohortly administration commands",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		cli.migrateCmd(),
		cli.addUserCmd(),
		cli.resetPasswordCmd(),
		cli.importQuizCmd(),
		cli.reportCmd(),
	)
	return cmd
}

// promptPassword reads a password from the terminal without echoing it.
func promptPassword(cmd *cobra.Command) (string, error) {
	cmd.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	cmd.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(pwd) == 0 {
		return "", errEmptyPassword
	}
	return string(pwd), nil
}
