package backup

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime/multipart"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextReportFormatter_Format(t *testing.T) {
	started := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	f := NewTextReportFormatter()

	ok := &Report{
		Mode:       ModeUpload,
		ExportPath: "/data/slack_backup_20261017_093000",
		Uploaded:   true,
		CleanedUp:  true,
		Stage:      stageDone,
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
	}
	assert.Equal(t, `Slack backup succeeded (upload)
[started]  2026/10/17 09:30:00
[finished] 2026/10/17 09:31:30
[export]   /data/slack_backup_20261017_093000
[uploaded] true
[cleanup]  true`, string(f.Format(ok)))

	failed := &Report{
		Mode:       ModeUpload,
		ExportPath: "/data/slack_backup_20261017_093000",
		Stage:      stageLoad,
		Err:        errors.New("load: upload failed"),
		StartedAt:  started,
		FinishedAt: started,
	}
	out := string(f.Format(failed))
	assert.Contains(t, out, "Slack backup failed (upload)")
	assert.Contains(t, out, "[stage]    load")
	assert.Contains(t, out, "[error]    load: upload failed")
	assert.Contains(t, out, "local data was kept for a retry")
}

func TestToMIMEBody(t *testing.T) {
	body, err := toMIMEBody([]byte("backup done"), "XYZboundary")
	require.NoError(t, err)

	r := multipart.NewReader(bytes.NewReader(body), "XYZboundary")
	part, err := r.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", part.Header.Get("Content-Type"))
	enc, err := io.ReadAll(part)
	require.NoError(t, err)
	dec, err := base64.StdEncoding.DecodeString(string(enc))
	require.NoError(t, err)
	assert.Equal(t, "backup done", string(dec))
}

func TestBoundary(t *testing.T) {
	b := boundary()
	assert.Len(t, b, 32)
	assert.NotEqual(t, b, boundary())
}
