package backup

import (
	"fmt"
	"strings"
)

type TextReportFormatter struct {
	TimeLayout string
}

var _ FormatterInterface = (*TextReportFormatter)(nil)

func NewTextReportFormatter() *TextReportFormatter {
	return &TextReportFormatter{
		TimeLayout: "2006/01/02 15:04:05",
	}
}

func (f *TextReportFormatter) Format(report *Report) []byte {
	status := "succeeded"
	if !report.Succeeded() {
		status = "failed"
	}

	lines := []string{
		fmt.Sprintf("Slack backup %s (%s)", status, report.Mode),
		fmt.Sprintf("[started]  %s", report.StartedAt.Format(f.TimeLayout)),
		fmt.Sprintf("[finished] %s", report.FinishedAt.Format(f.TimeLayout)),
	}
	if report.ExportPath != "" {
		lines = append(lines, fmt.Sprintf("[export]   %s", report.ExportPath))
	}
	if report.ArchivePath != "" {
		lines = append(lines, fmt.Sprintf("[archive]  %s", report.ArchivePath))
	}
	lines = append(lines,
		fmt.Sprintf("[uploaded] %t", report.Uploaded),
		fmt.Sprintf("[cleanup]  %t", report.CleanedUp),
	)
	if report.Err != nil {
		lines = append(lines,
			fmt.Sprintf("[stage]    %s", report.Stage),
			fmt.Sprintf("[error]    %s", report.Err.Error()),
		)
		if report.ExportPath != "" && !report.CleanedUp {
			lines = append(lines, "local data was kept for a retry")
		}
	}
	return []byte(strings.Join(lines, "\n"))
}
