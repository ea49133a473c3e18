package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cohortly/cohortly/core/quiz"
)

func (cli *commandLine) importQuizCmd() *cobra.Command {
	var file, batchID, author string
	cmd := &cobra.Command{
		Use:   "importquiz",
		Short: "Create an unpublished quiz from a YAML file",
		Example: `  admin importquiz --file quiz.yaml --batch 6f1c... --author jdoe

  # quiz.yaml
  title: Call flow basics
  time_limit: 15
  questions:
    - prompt: First thing to say?
      options: [Greeting, Hold music]
      correct_index: 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return errors.Wrap(err, "reading quiz file")
			}
			qz, err := cli.importQuiz(cmd.Context(), data, batchID, author)
			if err != nil {
				return err
			}
			cmd.Printf("Quiz %q created with %d questions (%s)\n", qz.Title, len(qz.Questions), qz.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the quiz YAML file")
	cmd.Flags().StringVar(&batchID, "batch", "", "the batch ID (overrides batch_id in the file)")
	cmd.Flags().StringVar(&author, "author", "", "username or email of the quiz author")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

func (cli *commandLine) importQuiz(ctx context.Context, data []byte, batchID, author string) (quiz.Quiz, error) {
	var nq quiz.NewQuiz
	if err := yaml.Unmarshal(data, &nq); err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "parsing quiz file")
	}
	if batchID != "" {
		nq.BatchID = batchID
	}
	if err := nq.Validate(cli.validate); err != nil {
		return quiz.Quiz{}, err
	}

	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, author)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "looking up author")
	}
	if !usr.IsStaff() {
		return quiz.Quiz{}, errors.Errorf("%s is not a trainer", usr.Username)
	}
	return cli.quizSvc.Create(ctx, nq, usr)
}
