package main

import (
	"context"
	"log/slog"
	"os"

	backup "github.com/ToshihitoKon/slack-backup"
)

type backupResponse struct {
	Stage      string `json:"stage"`
	ExportPath string `json:"export_path"`
	Uploaded   bool   `json:"uploaded"`
	CleanedUp  bool   `json:"cleaned_up"`
	Error      string `json:"error,omitempty"`
}

// handler runs one backup configured from the environment. On Lambda the
// only writable directory is /tmp, which becomes the default backup root.
func handler(ctx context.Context) (*backupResponse, error) {
	if os.Getenv("SB_BACKUP_DIR") == "" && os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		os.Setenv("SB_BACKUP_DIR", "/tmp/slack_backups")
	}
	conf, _, err := backup.LoadConfig(nil)
	if err != nil {
		return nil, err
	}
	conf.Logger = slog.Default()

	pipeline, err := backup.NewPipeline(ctx, conf)
	if err != nil {
		return nil, err
	}

	report, err := pipeline.Run(ctx)
	res := &backupResponse{
		Stage:      report.Stage,
		ExportPath: report.ExportPath,
		Uploaded:   report.Uploaded,
		CleanedUp:  report.CleanedUp,
	}
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	return res, nil
}
