package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"

	backup "github.com/ToshihitoKon/slack-backup"
)

type server struct {
	// one run owns the export directory at a time
	mu       sync.Mutex
	pipeline *backup.Pipeline
}

func main() {
	conf, opts, err := backup.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	level, err := backup.ParseLogLevel(opts.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	conf.Logger = backup.NewLogger(os.Stdout, opts.LogFormat, level)
	slog.SetDefault(conf.Logger)

	pipeline, err := backup.NewPipeline(context.Background(), conf)
	if err != nil {
		log.Fatal(err)
	}
	s := &server{pipeline: pipeline}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /backup", s.handleBackup)
	addr := ":" + firstNonEmpty(os.Getenv("PORT"), "8080")
	slog.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if !s.mu.TryLock() {
		http.Error(w, "a backup is already running", http.StatusConflict)
		return
	}
	defer s.mu.Unlock()

	// the run outlives a disconnecting client
	report, err := s.pipeline.Run(context.WithoutCancel(r.Context()))
	res := map[string]any{
		"stage":       report.Stage,
		"export_path": report.ExportPath,
		"uploaded":    report.Uploaded,
		"cleaned_up":  report.CleanedUp,
	}
	status := http.StatusOK
	if err != nil {
		res["error"] = err.Error()
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(res)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
