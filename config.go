package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML representation of Config. Every field is optional.
type fileConfig struct {
	Mode     string `yaml:"mode"`
	Uploader string `yaml:"uploader"`

	Slack struct {
		APIURL          string   `yaml:"api_url"`
		ChannelTypes    []string `yaml:"channel_types"`
		PageSize        int      `yaml:"page_size"`
		RequireChannels *bool    `yaml:"require_channels"`
	} `yaml:"slack"`

	Local struct {
		BackupDir               string `yaml:"backup_dir"`
		TimestampDir            *bool  `yaml:"timestamp_dir"`
		AttachmentSuffix        *bool  `yaml:"attachment_suffix"`
		SkipExistingAttachments *bool  `yaml:"skip_existing_attachments"`
		ExistingPath            string `yaml:"existing_path"`
		RetentionDays           *int   `yaml:"retention_days"`
		CompressThreshold       *int64 `yaml:"compress_threshold"`
		Organize                *bool  `yaml:"organize"`
		Cleanup                 *bool  `yaml:"cleanup"`
	} `yaml:"local"`

	Remote struct {
		FolderID              string `yaml:"folder_id"`
		GoogleCredentialsPath string `yaml:"google_credentials_path"`
		GoogleTokenPath       string `yaml:"google_token_path"`
		MegaTool              string `yaml:"mega_tool"`
		S3Bucket              string `yaml:"s3_bucket"`
		S3Region              string `yaml:"s3_region"`
		S3Endpoint            string `yaml:"s3_endpoint"`
		S3PathStyle           bool   `yaml:"s3_path_style"`
	} `yaml:"remote"`

	Notify struct {
		SESConfigSetName string   `yaml:"ses_config_set_name"`
		SESSourceArn     string   `yaml:"ses_source_arn"`
		From             string   `yaml:"from"`
		To               []string `yaml:"to"`
		Subject          string   `yaml:"subject"`
	} `yaml:"notify"`
}

// Options are the command line values that are not part of Config.
type Options struct {
	ConfigPath string
	EnvFile    string
	LogFile    string
	LogFormat  string
	LogLevel   string
	Interval   string
	Once       bool
}

func DefaultConfig() *Config {
	return &Config{
		Mode:              ModeUpload,
		Uploader:          UploaderDrive,
		ChannelTypes:      []string{"public_channel"},
		HistoryPageSize:   defaultHistoryPageSize,
		BackupDir:         defaultBackupDir,
		TimestampDir:      true,
		AttachmentSuffix:  true,
		RetentionDays:     defaultRetentionDays,
		CompressThreshold: defaultCompressThreshold,
		Organize:          true,
		Cleanup:           true,
		MegaTool:          defaultMegaTool,
		GoogleTokenPath:   defaultGoogleTokenPath,
	}
}

// LoadConfig resolves configuration from, in increasing precedence:
// defaults, the YAML file, the .env file, environment variables and flags.
func LoadConfig(args []string) (*Config, *Options, error) {
	flags := flag.NewFlagSet("slack-backup", flag.ContinueOnError)
	opts := &Options{}
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded when present")
	flags.StringVar(&opts.LogFile, "log-file", "", "Also write logs to this file")
	flags.StringVar(&opts.LogFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.Interval, "interval", "", "Run periodically with this interval (e.g. 24h)")
	flags.BoolVar(&opts.Once, "once", false, "Run a single backup and exit, ignoring --interval")

	mode := flags.StringP("mode", "m", "", "Pipeline: upload, local, local-archive, upload-existing")
	uploader := flags.StringP("uploader", "u", "", "Uploader backend: drive, mega, s3")
	backupDir := flags.String("backup-dir", "", "Local backup root")
	existing := flags.String("path", "", "Existing folder to upload (upload-existing)")
	remote := flags.String("remote-folder", "", "Remote root folder identifier")
	retention := flags.Int("retention-days", 0, "Export messages newer than this many days")
	threshold := flags.Int64("compress-threshold", 0, "Compress files larger than this many bytes")
	noCleanup := flags.Bool("no-cleanup", false, "Keep the local export after a successful upload")
	noOrganize := flags.Bool("no-organize", false, "Do not group attachments by extension")
	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}

	conf := DefaultConfig()
	if opts.ConfigPath != "" {
		if err := conf.loadYAML(opts.ConfigPath); err != nil {
			return nil, nil, err
		}
	}
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}
	if err := conf.loadEnv(); err != nil {
		return nil, nil, err
	}
	opts.LogFile = firstString([]string{opts.LogFile, getEnv("SB_LOG_FILE")})
	opts.LogFormat = firstString([]string{opts.LogFormat, getEnv("SB_LOG_FORMAT"), "text"})
	opts.LogLevel = firstString([]string{opts.LogLevel, getEnv("SB_LOG_LEVEL"), "info"})
	opts.Interval = firstString([]string{opts.Interval, getEnv("SB_INTERVAL")})

	if flags.Changed("mode") {
		conf.Mode = Mode(*mode)
	}
	if flags.Changed("uploader") {
		conf.Uploader = UploaderKind(*uploader)
	}
	if flags.Changed("backup-dir") {
		conf.BackupDir = *backupDir
	}
	if flags.Changed("path") {
		conf.ExistingPath = *existing
	}
	if flags.Changed("remote-folder") {
		conf.RemoteFolderID = *remote
	}
	if flags.Changed("retention-days") {
		conf.RetentionDays = *retention
	}
	if flags.Changed("compress-threshold") {
		conf.CompressThreshold = *threshold
	}
	if *noCleanup {
		conf.Cleanup = false
	}
	if *noOrganize {
		conf.Organize = false
	}

	if err := conf.Validate(); err != nil {
		return nil, nil, err
	}
	return conf, opts, nil
}

func (c *Config) loadYAML(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	fc := &fileConfig{}
	if err := yaml.Unmarshal(b, fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.applyFile(fc)
	return nil
}

func (c *Config) applyFile(fc *fileConfig) {
	if fc.Mode != "" {
		c.Mode = Mode(fc.Mode)
	}
	if fc.Uploader != "" {
		c.Uploader = UploaderKind(fc.Uploader)
	}

	c.SlackAPIURL = firstString([]string{fc.Slack.APIURL, c.SlackAPIURL})
	if len(fc.Slack.ChannelTypes) != 0 {
		c.ChannelTypes = fc.Slack.ChannelTypes
	}
	if fc.Slack.PageSize > 0 {
		c.HistoryPageSize = fc.Slack.PageSize
	}
	setBool(&c.RequireChannels, fc.Slack.RequireChannels)

	l := fc.Local
	c.BackupDir = firstString([]string{l.BackupDir, c.BackupDir})
	c.ExistingPath = firstString([]string{l.ExistingPath, c.ExistingPath})
	setBool(&c.TimestampDir, l.TimestampDir)
	setBool(&c.AttachmentSuffix, l.AttachmentSuffix)
	setBool(&c.SkipExistingAttachments, l.SkipExistingAttachments)
	setBool(&c.Organize, l.Organize)
	setBool(&c.Cleanup, l.Cleanup)
	if l.RetentionDays != nil {
		c.RetentionDays = *l.RetentionDays
	}
	if l.CompressThreshold != nil {
		c.CompressThreshold = *l.CompressThreshold
	}

	r := fc.Remote
	c.RemoteFolderID = firstString([]string{r.FolderID, c.RemoteFolderID})
	c.GoogleCredentialsPath = firstString([]string{r.GoogleCredentialsPath, c.GoogleCredentialsPath})
	c.GoogleTokenPath = firstString([]string{r.GoogleTokenPath, c.GoogleTokenPath})
	c.MegaTool = firstString([]string{r.MegaTool, c.MegaTool})
	c.S3Bucket = firstString([]string{r.S3Bucket, c.S3Bucket})
	c.S3Region = firstString([]string{r.S3Region, c.S3Region})
	c.S3Endpoint = firstString([]string{r.S3Endpoint, c.S3Endpoint})
	c.S3PathStyle = c.S3PathStyle || r.S3PathStyle

	n := fc.Notify
	c.Notify.SESConfigSetName = firstString([]string{n.SESConfigSetName, c.Notify.SESConfigSetName})
	c.Notify.SESSourceArn = firstString([]string{n.SESSourceArn, c.Notify.SESSourceArn})
	c.Notify.From = firstString([]string{n.From, c.Notify.From})
	c.Notify.Subject = firstString([]string{n.Subject, c.Notify.Subject})
	if len(n.To) != 0 {
		c.Notify.To = n.To
	}
}

// loadEnv overrides values that are set in the environment. Secrets are
// only read from here.
func (c *Config) loadEnv() error {
	c.SlackToken = firstString([]string{getEnv("SLACK_BOT_TOKEN"), c.SlackToken})
	c.SlackAPIURL = firstString([]string{getEnv("SB_SLACK_API_URL"), c.SlackAPIURL})
	if v := getEnv("SB_CHANNEL_TYPES"); v != "" {
		c.ChannelTypes = splitList(v)
	}
	c.HistoryPageSize = getEnvInt("SB_HISTORY_PAGE_SIZE", c.HistoryPageSize)
	c.RequireChannels = getEnvBool("SB_REQUIRE_CHANNELS", c.RequireChannels)

	if v := getEnv("SB_MODE"); v != "" {
		c.Mode = Mode(v)
	}
	if v := getEnv("SB_UPLOADER"); v != "" {
		c.Uploader = UploaderKind(v)
	}

	c.BackupDir = firstString([]string{getEnv("SB_BACKUP_DIR"), c.BackupDir})
	c.ExistingPath = firstString([]string{getEnv("SB_EXISTING_PATH"), c.ExistingPath})
	c.TimestampDir = getEnvBool("SB_TIMESTAMP_DIR", c.TimestampDir)
	c.AttachmentSuffix = getEnvBool("SB_ATTACHMENT_SUFFIX", c.AttachmentSuffix)
	c.SkipExistingAttachments = getEnvBool("SB_SKIP_EXISTING_ATTACHMENTS", c.SkipExistingAttachments)
	c.RetentionDays = getEnvInt("SB_RETENTION_DAYS", c.RetentionDays)
	if v := getEnv("SB_COMPRESS_THRESHOLD"); v != "" {
		threshold, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SB_COMPRESS_THRESHOLD: %w", err)
		}
		c.CompressThreshold = threshold
	}
	c.Organize = getEnvBool("SB_ORGANIZE", c.Organize)
	c.Cleanup = getEnvBool("SB_CLEANUP", c.Cleanup)

	c.RemoteFolderID = firstString([]string{getEnv("REMOTE_FOLDER_ID"), c.RemoteFolderID})
	c.GoogleCredentialsPath = firstString([]string{getEnv("GOOGLE_CREDENTIALS_PATH"), c.GoogleCredentialsPath})
	c.GoogleTokenPath = firstString([]string{getEnv("GOOGLE_TOKEN_PATH"), c.GoogleTokenPath})
	c.MegaTool = firstString([]string{getEnv("SB_MEGA_TOOL"), c.MegaTool})
	c.MegaLogin = firstString([]string{getEnv("MEGA_EMAIL"), c.MegaLogin})
	c.MegaPassword = firstString([]string{getEnv("MEGA_PASSWORD"), c.MegaPassword})
	c.S3Bucket = firstString([]string{getEnv("SB_S3_BUCKET"), c.S3Bucket})
	c.S3Region = firstString([]string{getEnv("SB_S3_REGION"), c.S3Region})
	c.S3Endpoint = firstString([]string{getEnv("SB_S3_ENDPOINT"), c.S3Endpoint})
	c.S3PathStyle = getEnvBool("SB_S3_PATH_STYLE", c.S3PathStyle)

	c.Notify.SESConfigSetName = firstString([]string{getEnv("SB_NOTIFY_SES_CONFIG_SET"), c.Notify.SESConfigSetName})
	c.Notify.SESSourceArn = firstString([]string{getEnv("SB_NOTIFY_SES_SOURCE_ARN"), c.Notify.SESSourceArn})
	c.Notify.From = firstString([]string{getEnv("SB_NOTIFY_FROM"), c.Notify.From})
	c.Notify.Subject = firstString([]string{getEnv("SB_NOTIFY_SUBJECT"), c.Notify.Subject})
	if v := getEnv("SB_NOTIFY_TO"); v != "" {
		c.Notify.To = splitList(v)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeUpload, ModeUploadExisting:
		switch c.Uploader {
		case UploaderDrive:
			if c.GoogleCredentialsPath == "" {
				return errors.New("GOOGLE_CREDENTIALS_PATH is required for the drive uploader")
			}
			if c.RemoteFolderID == "" {
				return errors.New("REMOTE_FOLDER_ID is required for the drive uploader")
			}
		case UploaderMega:
			if c.MegaLogin == "" || c.MegaPassword == "" {
				return errors.New("MEGA_EMAIL and MEGA_PASSWORD are required for the mega uploader")
			}
		case UploaderS3:
			if c.S3Bucket == "" {
				return errors.New("SB_S3_BUCKET is required for the s3 uploader")
			}
		default:
			return fmt.Errorf("unknown uploader %q", c.Uploader)
		}
	case ModeLocal, ModeLocalArchive:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	if c.Mode == ModeUploadExisting {
		if c.ExistingPath == "" {
			return errors.New("path of the folder to upload is required in upload-existing mode")
		}
		return nil
	}
	if c.SlackToken == "" {
		return ErrMissingToken
	}
	if c.BackupDir == "" {
		return errors.New("backup dir is required")
	}
	if c.CompressThreshold < 0 {
		return errors.New("compress threshold must not be negative")
	}
	return nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
