package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bigAttachment = bytes.Repeat([]byte("log line\n"), 16)

// fakeExtractor writes a small two channel workspace.
type fakeExtractor struct {
	err    error
	oldest time.Time
}

func (e *fakeExtractor) Export(_ context.Context, exportPath string, oldest time.Time, fileSuffix string) (string, error) {
	e.oldest = oldest
	if e.err != nil {
		return "", e.err
	}
	if err := os.MkdirAll(filepath.Join(exportPath, "general"), 0755); err != nil {
		return "", err
	}
	files := map[string][]byte{
		channelsFileName: []byte(`[{"id":"C1","name":"general"},{"id":"C2","name":"random"}]`),
		"general.json":   []byte(`{"ok":true,"messages":[{"ts":"1"}],"has_more":false}`),
		"random.json":    []byte(`{"ok":true,"messages":[],"has_more":false}`),
		filepath.Join("general", suffixedName("report.pdf", fileSuffix)): []byte("pdf"),
		filepath.Join("general", suffixedName("big.log", fileSuffix)):    bigAttachment,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(exportPath, name), data, 0644); err != nil {
			return "", err
		}
	}
	return exportPath, nil
}

// recordingUploader keeps a copy of the tree it was asked to upload.
type recordingUploader struct {
	t      *testing.T
	err    error
	called int
	local  string
	remote string
	seen   map[string]string
}

func (u *recordingUploader) UploadFolder(_ context.Context, localPath, remoteTarget string) error {
	u.called++
	u.local = localPath
	u.remote = remoteTarget
	u.seen = snapshotTree(u.t, localPath)
	return u.err
}

type recordingNotifier struct {
	reports []*Report
}

func (n *recordingNotifier) Notify(_ context.Context, report *Report) error {
	n.reports = append(n.reports, report)
	return errors.New("smtp down")
}

func pipelineConfig(t *testing.T, mode Mode) *Config {
	conf := testConfig(t)
	conf.Mode = mode
	conf.CompressThreshold = 100
	conf.RemoteFolderID = "folder123"
	return conf
}

const runDirName = "slack_backup_20261017_093000"

var transformedTree = map[string]string{
	channelsFileName: `[{"id":"C1","name":"general"},{"id":"C2","name":"random"}]`,
	"general.json":   `{"ok":true,"messages":[{"ts":"1"}],"has_more":false}`,
	"random.json":    `{"ok":true,"messages":[],"has_more":false}`,
	filepath.Join("general", "pdf", "report_20261017_093000.pdf"): "pdf",
}

func assertTransformed(t *testing.T, tree map[string]string) {
	t.Helper()
	gz := filepath.Join("general", "gz", "big_20261017_093000.log.gz")
	require.Contains(t, tree, gz)
	zr, err := gzip.NewReader(bytes.NewReader([]byte(tree[gz])))
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, bigAttachment, b)

	rest := map[string]string{}
	for k, v := range tree {
		if k != gz {
			rest[k] = v
		}
	}
	assert.Equal(t, transformedTree, rest)
}

func TestPipeline_Run_Upload(t *testing.T) {
	conf := pipelineConfig(t, ModeUpload)
	extractor := &fakeExtractor{}
	uploader := &recordingUploader{t: t}
	notifier := &recordingNotifier{}
	p := newPipeline(conf, extractor, uploader, notifier)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	exportPath := filepath.Join(conf.BackupDir, runDirName)
	assert.Equal(t, time.Date(2026, 9, 17, 9, 30, 0, 0, time.UTC), extractor.oldest)
	assert.Equal(t, 1, uploader.called)
	assert.Equal(t, exportPath, uploader.local)
	assert.Equal(t, "folder123", uploader.remote)
	assertTransformed(t, uploader.seen)
	assert.NoDirExists(t, exportPath)

	assert.True(t, report.Succeeded())
	assert.Equal(t, stageDone, report.Stage)
	assert.True(t, report.Uploaded)
	assert.True(t, report.CleanedUp)
	require.Len(t, notifier.reports, 1)
	assert.Same(t, report, notifier.reports[0])
}

func TestPipeline_Run_UploadFailureKeepsLocalData(t *testing.T) {
	conf := pipelineConfig(t, ModeUpload)
	uploader := &recordingUploader{t: t, err: errors.Join(ErrUpload, errors.New("network unreachable"))}
	notifier := &recordingNotifier{}
	p := newPipeline(conf, &fakeExtractor{}, uploader, notifier)

	report, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpload)

	exportPath := filepath.Join(conf.BackupDir, runDirName)
	assert.DirExists(t, exportPath)
	assert.Equal(t, uploader.seen, snapshotTree(t, exportPath))

	assert.False(t, report.Succeeded())
	assert.Equal(t, stageLoad, report.Stage)
	assert.False(t, report.Uploaded)
	assert.False(t, report.CleanedUp)
	require.Len(t, notifier.reports, 1)
	assert.ErrorIs(t, notifier.reports[0].Err, ErrUpload)
}

func TestPipeline_Run_NoCleanup(t *testing.T) {
	conf := pipelineConfig(t, ModeUpload)
	conf.Cleanup = false
	p := newPipeline(conf, &fakeExtractor{}, &recordingUploader{t: t}, nil)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Uploaded)
	assert.False(t, report.CleanedUp)
	assert.DirExists(t, report.ExportPath)
}

func TestPipeline_Run_ExtractFailure(t *testing.T) {
	conf := pipelineConfig(t, ModeUpload)
	uploader := &recordingUploader{t: t}
	p := newPipeline(conf, &fakeExtractor{err: ErrNoChannels}, uploader, nil)

	report, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoChannels)
	assert.Equal(t, stageExtract, report.Stage)
	assert.Zero(t, uploader.called)
}

func TestPipeline_Run_Local(t *testing.T) {
	conf := pipelineConfig(t, ModeLocal)
	conf.TimestampDir = false
	conf.AttachmentSuffix = false
	conf.Organize = false
	p := newPipeline(conf, &fakeExtractor{}, nil, nil)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, conf.BackupDir, report.ExportPath)
	assert.False(t, report.Uploaded)
	assert.Equal(t, []string{
		channelsFileName,
		"general.json",
		filepath.Join("general", "big.log.gz"),
		filepath.Join("general", "report.pdf"),
		"random.json",
	}, sortedKeys(snapshotTree(t, conf.BackupDir)))
}

func TestPipeline_Run_LocalArchive(t *testing.T) {
	conf := pipelineConfig(t, ModeLocalArchive)
	p := newPipeline(conf, &fakeExtractor{}, nil, nil)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	exportPath := filepath.Join(conf.BackupDir, runDirName)
	assert.Equal(t, exportPath+".tar.gz", report.ArchivePath)
	assert.NoDirExists(t, exportPath)

	f, err := os.Open(report.ArchivePath)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(zr)
	tree := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(tr)
		require.NoError(t, err)
		rel, err := filepath.Rel(runDirName, filepath.FromSlash(hdr.Name))
		require.NoError(t, err)
		tree[rel] = string(b)
	}
	assertTransformed(t, tree)
}

func TestPipeline_Run_UploadExisting(t *testing.T) {
	conf := pipelineConfig(t, ModeUploadExisting)
	conf.ExistingPath = exampleExport(t)
	before := snapshotTree(t, conf.ExistingPath)
	uploader := &recordingUploader{t: t}
	p := newPipeline(conf, nil, uploader, nil)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, conf.ExistingPath, uploader.local)
	assert.Equal(t, before, uploader.seen)
	assert.True(t, report.Uploaded)
	assert.False(t, report.CleanedUp)
	assert.Equal(t, before, snapshotTree(t, conf.ExistingPath))
}

func TestPipeline_RunPaths(t *testing.T) {
	conf := pipelineConfig(t, ModeLocal)
	p := newPipeline(conf, nil, nil, nil)
	exportPath, suffix := p.runPaths()
	assert.Equal(t, filepath.Join(conf.BackupDir, runDirName), exportPath)
	assert.Equal(t, "_20261017_093000", suffix)
}

func TestNewPipeline_InvalidConfig(t *testing.T) {
	conf := pipelineConfig(t, ModeUpload)
	conf.GoogleCredentialsPath = ""
	_, err := NewPipeline(context.Background(), conf)
	assert.Error(t, err)

	conf = pipelineConfig(t, ModeLocal)
	conf.SlackToken = ""
	_, err = NewPipeline(context.Background(), conf)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestReport_Succeeded(t *testing.T) {
	assert.True(t, (&Report{}).Succeeded())
	assert.False(t, (&Report{Err: ErrUpload}).Succeeded())
}
