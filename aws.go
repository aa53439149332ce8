package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
)

type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader mirrors a directory tree as object keys
// <remoteTarget>/<base name>/<relative path>.
type S3Uploader struct {
	s3Client s3API
	bucket   string

	logger *slog.Logger
}

var _ UploaderInterface = (*S3Uploader)(nil)

func NewS3Uploader(ctx context.Context, conf *Config) (*S3Uploader, error) {
	if conf.S3Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrUploaderAuth)
	}

	var opts []func(*awsConfig.LoadOptions) error
	if conf.S3Region != "" {
		opts = append(opts, awsConfig.WithRegion(conf.S3Region))
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %w", ErrUploaderAuth, err)
	}

	var s3Opts []func(*s3.Options)
	if conf.S3Endpoint != "" {
		endpoint := conf.S3Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if conf.S3PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newS3Uploader(ctx, s3.NewFromConfig(cfg, s3Opts...), conf.S3Bucket, conf.getLogger())
}

func newS3Uploader(ctx context.Context, client s3API, bucket string, logger *slog.Logger) (*S3Uploader, error) {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("%w: s3 bucket %s: %w", ErrUploaderAuth, bucket, err)
	}
	return &S3Uploader{
		s3Client: client,
		bucket:   bucket,
		logger:   logger,
	}, nil
}

func (e *S3Uploader) UploadFolder(ctx context.Context, localPath, remoteTarget string) error {
	root, err := resolvePath(localPath)
	if err != nil {
		return err
	}
	files, err := listFiles(root)
	if err != nil {
		return err
	}

	prefix := path.Join(remoteTarget, filepath.Base(root))
	for _, file := range files {
		key := path.Join(prefix, filepath.ToSlash(relPath(root, file)))
		if err := e.putFileToS3(ctx, file, key); err != nil {
			return fmt.Errorf("%w: put s3://%s/%s: %w", ErrUpload, e.bucket, key, err)
		}
		e.logger.Info("File uploaded", "bucket", e.bucket, "key", key)
	}

	e.logger.Info("Folder uploaded to S3", "bucket", e.bucket, "prefix", prefix, "files", len(files))
	return nil
}

func (e *S3Uploader) putFileToS3(ctx context.Context, srcPath, dstKey string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	params := &s3.PutObjectInput{
		Bucket: &e.bucket,
		Key:    &dstKey,
		Body:   f,
	}
	if _, err := e.s3Client.PutObject(ctx, params); err != nil {
		return err
	}

	return nil
}

type sesAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SESNotifier mails the run report.
type SESNotifier struct {
	sesClient     sesAPI
	configSetName string
	sourceArn     string
	from          string
	to            []string
	subject       string
	formatter     FormatterInterface

	logger *slog.Logger
}

var _ NotifierInterface = (*SESNotifier)(nil)

func NewSESNotifier(ctx context.Context, conf *Config) (*SESNotifier, error) {
	n := conf.Notify
	if n.From == "" || len(n.To) == 0 {
		return nil, fmt.Errorf("notify from and to are required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return &SESNotifier{
		sesClient:     ses.NewFromConfig(cfg),
		configSetName: n.SESConfigSetName,
		sourceArn:     n.SESSourceArn,
		from:          n.From,
		to:            n.To,
		subject:       firstString([]string{n.Subject, "Slack backup report"}),
		formatter:     NewTextReportFormatter(),
		logger:        conf.getLogger(),
	}, nil
}

func (e *SESNotifier) Notify(ctx context.Context, report *Report) error {
	maildata := &Mail{
		From:     e.from,
		To:       e.to,
		Subject:  e.subject,
		Boundary: boundary(),
	}
	body, err := toMIMEBody(e.formatter.Format(report), maildata.Boundary)
	if err != nil {
		return err
	}
	maildata.Body = body

	return e.sendMail(ctx, maildata)
}

func (e *SESNotifier) sendMail(ctx context.Context, maildata *Mail) error {
	header := maildata.headerString()

	rawMessage := append([]byte(header), maildata.Body...)
	input := &ses.SendRawEmailInput{
		Source:       aws.String(maildata.From),
		Destinations: maildata.To,
		RawMessage:   &sestypes.RawMessage{Data: rawMessage},
	}
	if e.configSetName != "" {
		input.ConfigurationSetName = aws.String(e.configSetName)
	}
	if e.sourceArn != "" {
		input.SourceArn = aws.String(e.sourceArn)
	}

	if _, err := e.sesClient.SendRawEmail(ctx, input); err != nil {
		return err
	}
	e.logger.Info("Report mailed", "to", maildata.To)
	return nil
}
