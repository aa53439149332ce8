package backup

import (
	"encoding/json"
	"log/slog"
	"time"
)

type Mode string

const (
	ModeUpload         Mode = "upload"
	ModeLocal          Mode = "local"
	ModeLocalArchive   Mode = "local-archive"
	ModeUploadExisting Mode = "upload-existing"
)

type UploaderKind string

const (
	UploaderDrive UploaderKind = "drive"
	UploaderMega  UploaderKind = "mega"
	UploaderS3    UploaderKind = "s3"
)

const (
	channelsFileName = "channels.json"

	defaultBackupDir         = "./slack_backups"
	defaultRetentionDays     = 30
	defaultCompressThreshold = 100 * 1000000
	defaultHistoryPageSize   = 15
	defaultMegaTool          = "mega" // prefix of mega-version, mega-login, mega-put
	defaultGoogleTokenPath   = "token.json"
)

type Config struct {
	Logger *slog.Logger

	Mode     Mode
	Uploader UploaderKind

	// Slack
	SlackToken      string
	SlackAPIURL     string
	ChannelTypes    []string
	HistoryPageSize int
	RequireChannels bool

	// Local export
	BackupDir               string
	TimestampDir            bool
	AttachmentSuffix        bool
	SkipExistingAttachments bool
	ExistingPath            string
	RetentionDays           int
	CompressThreshold       int64
	Organize                bool
	Cleanup                 bool

	// Remote
	RemoteFolderID        string
	GoogleCredentialsPath string
	GoogleTokenPath       string
	MegaTool              string
	MegaLogin             string
	MegaPassword          string
	S3Bucket              string
	S3Region              string
	S3Endpoint            string
	S3PathStyle           bool

	Notify NotifyConfig

	// now is replaced in tests
	now func() time.Time
}

type NotifyConfig struct {
	SESConfigSetName string
	SESSourceArn     string
	From             string
	To               []string
	Subject          string
}

func (n NotifyConfig) Enabled() bool {
	return n.From != "" && len(n.To) != 0
}

func (c *Config) Now() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Oldest returns the lower bound of the history window.
func (c *Config) Oldest() time.Time {
	if c.RetentionDays <= 0 {
		return time.Time{}
	}
	return c.Now().AddDate(0, 0, -c.RetentionDays)
}

// FileReference is the subset of a Slack file object needed to fetch it.
type FileReference struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	DownloadURL string `json:"url_private_download"`
}

// ChannelHistory is the document written per channel. Messages are kept
// exactly as the history endpoint returned them.
type ChannelHistory struct {
	Ok       bool              `json:"ok"`
	Messages []json.RawMessage `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

type Report struct {
	Mode        Mode
	ExportPath  string
	ArchivePath string
	Uploaded    bool
	CleanedUp   bool
	Stage       string
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (r *Report) Succeeded() bool {
	return r.Err == nil
}
