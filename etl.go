package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	runTimestampLayout = "20060102_150405"
	runDirPrefix       = "slack_backup_"
)

const (
	stageExtract   = "extract"
	stageTransform = "transform"
	stageArchive   = "archive"
	stageLoad      = "load"
	stageCleanup   = "cleanup"
	stageDone      = "done"
)

// Pipeline runs extract, transform and load in that order. Which stages run
// and which uploader is used depend on Config.Mode; the order never changes.
type Pipeline struct {
	config     *Config
	extractor  ExtractorInterface
	compressor *FileCompressor
	organizer  *FileOrganizer
	archiver   ArchiverInterface
	uploader   UploaderInterface
	notifier   NotifierInterface

	logger *slog.Logger
}

// NewPipeline wires the components for conf.Mode. Slack and uploader
// authentication happen here, so a credential problem surfaces before the
// run touches the local export directory.
func NewPipeline(ctx context.Context, conf *Config) (*Pipeline, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	var extractor ExtractorInterface
	if conf.Mode != ModeUploadExisting {
		e, err := NewSlackExporter(ctx, conf)
		if err != nil {
			return nil, err
		}
		extractor = e
	}

	var uploader UploaderInterface
	if conf.Mode == ModeUpload || conf.Mode == ModeUploadExisting {
		u, err := NewUploader(ctx, conf)
		if err != nil {
			return nil, err
		}
		uploader = u
	}

	var notifier NotifierInterface = &NoneNotifier{}
	if conf.Notify.Enabled() {
		n, err := NewSESNotifier(ctx, conf)
		if err != nil {
			return nil, err
		}
		notifier = n
	}

	return newPipeline(conf, extractor, uploader, notifier), nil
}

func newPipeline(conf *Config, extractor ExtractorInterface, uploader UploaderInterface, notifier NotifierInterface) *Pipeline {
	if notifier == nil {
		notifier = &NoneNotifier{}
	}
	return &Pipeline{
		config:     conf,
		extractor:  extractor,
		compressor: NewFileCompressor(conf),
		organizer:  NewFileOrganizer(conf),
		archiver:   NewLocalArchiver(conf),
		uploader:   uploader,
		notifier:   notifier,
		logger:     conf.getLogger(),
	}
}

func NewUploader(ctx context.Context, conf *Config) (UploaderInterface, error) {
	switch conf.Uploader {
	case UploaderDrive:
		return NewDriveUploader(ctx, conf)
	case UploaderMega:
		return NewMegaUploader(ctx, conf)
	case UploaderS3:
		return NewS3Uploader(ctx, conf)
	default:
		return nil, fmt.Errorf("unknown uploader %q", conf.Uploader)
	}
}

// Run executes one backup. The local export is removed only after the
// upload reported success; on any failure it is left on disk.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Mode:      p.config.Mode,
		StartedAt: p.config.Now(),
	}
	p.logger.Info("=== Starting Slack backup ===", "mode", p.config.Mode)

	err := p.run(ctx, report)
	report.FinishedAt = p.config.Now()
	report.Err = err
	if err != nil {
		p.logger.Error("backup failed", "stage", report.Stage, "path", report.ExportPath, "error", err.Error())
	} else {
		report.Stage = stageDone
		p.logger.Info("=== Backup completed successfully ===", "path", report.ExportPath)
	}

	if nerr := p.notifier.Notify(ctx, report); nerr != nil {
		p.logger.Error("failed to send report", "error", nerr.Error())
	}
	return report, err
}

func (p *Pipeline) run(ctx context.Context, report *Report) error {
	if p.config.Mode == ModeUploadExisting {
		report.ExportPath = p.config.ExistingPath
		return p.load(ctx, report, false)
	}

	exportPath, fileSuffix := p.runPaths()
	report.ExportPath = exportPath

	report.Stage = stageExtract
	if _, err := p.extractor.Export(ctx, exportPath, p.config.Oldest(), fileSuffix); err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	report.Stage = stageTransform
	if err := p.transform(exportPath); err != nil {
		return fmt.Errorf("transform: %w", err)
	}

	switch p.config.Mode {
	case ModeLocal:
		p.logger.Info("Data saved locally", "path", exportPath)
		return nil
	case ModeLocalArchive:
		report.Stage = stageArchive
		archivePath, err := p.archiver.Archive(exportPath)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		report.ArchivePath = archivePath
		p.logger.Info("Data saved and compressed locally", "path", archivePath)
		return nil
	default:
		return p.load(ctx, report, p.config.Cleanup)
	}
}

// runPaths returns the export directory and attachment suffix of this run.
func (p *Pipeline) runPaths() (string, string) {
	ts := p.config.Now().Format(runTimestampLayout)

	exportPath := p.config.BackupDir
	if p.config.TimestampDir {
		exportPath = filepath.Join(p.config.BackupDir, runDirPrefix+ts)
	}
	suffix := ""
	if p.config.AttachmentSuffix {
		suffix = "_" + ts
	}
	return exportPath, suffix
}

func (p *Pipeline) transform(exportPath string) error {
	p.logger.Info("Transforming extracted data", "path", exportPath)
	if err := p.compressor.CompressTree(exportPath, p.config.CompressThreshold, true); err != nil {
		return err
	}
	if p.config.Organize {
		if err := p.organizer.Organize(exportPath); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) load(ctx context.Context, report *Report, cleanup bool) error {
	report.Stage = stageLoad
	p.logger.Info("Loading transformed data", "path", report.ExportPath, "remote", p.config.RemoteFolderID)
	if err := p.uploader.UploadFolder(ctx, report.ExportPath, p.config.RemoteFolderID); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	report.Uploaded = true
	p.logger.Info("Backup uploaded to cloud storage")

	if !cleanup {
		return nil
	}
	report.Stage = stageCleanup
	p.logger.Info("Cleaning up local directory", "path", report.ExportPath)
	if err := os.RemoveAll(report.ExportPath); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	report.CleanedUp = true
	return nil
}
