package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/cohortly/cohortly/core/dashboard"
)

func (cli *commandLine) reportCmd() *cobra.Command {
	var batchID string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the performance report of a batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := cli.dashSvc.BatchDashboard(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			writeReport(cmd.OutOrStdout(), board)
			return nil
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "the batch ID")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func writeReport(w io.Writer, board dashboard.BatchDashboard) {
	b := board.Batch
	fmt.Fprintf(w, "%s (%s) %s to %s\n", b.Name, b.Status, b.StartDate.Format("2006-01-02"), b.EndDate.Format("2006-01-02"))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Trainee", "Attendance", "Quizzes", "Evaluations", "At risk"})
	table.SetAutoWrapText(false)
	for _, row := range board.Trainees {
		risk := ""
		if row.AtRisk {
			risk = strings.Join(row.RiskReasons, ", ")
		}
		table.Append([]string{
			row.Name,
			percent(row.AttendanceRate, 100),
			percent(row.QuizAverage, 1) + " (" + strconv.Itoa(row.QuizzesPassed) + "/" + strconv.Itoa(row.QuizzesTaken) + ")",
			percent(row.EvaluationAverage, 1),
			risk,
		})
	}
	table.SetFooter([]string{
		"Batch",
		percent(board.AttendanceRate, 100),
		percent(board.QuizAverage, 1),
		percent(board.EvaluationAverage, 1),
		strconv.Itoa(board.AtRiskCount),
	})
	table.Render()
}

// percent formats v*scale as a percentage, or "-" when there is no data.
func percent(v *float64, scale float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v*scale, 'f', 1, 64) + "%"
}
