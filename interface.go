package backup

import (
	"context"
	"time"
)

/* Example
ctx := context.Background()

pipeline, err := NewPipeline(ctx, conf)
if err != nil {
	// authentication failed, nothing was written
}
report, err := pipeline.Run(ctx)
*/

type ExtractorInterface interface {
	Export(ctx context.Context, exportPath string, oldest time.Time, fileSuffix string) (string, error)
}

type UploaderInterface interface {
	UploadFolder(ctx context.Context, localPath, remoteTarget string) error
}

type ArchiverInterface interface {
	Archive(dir string) (string, error)
}

type NotifierInterface interface {
	Notify(ctx context.Context, report *Report) error
}

type FormatterInterface interface {
	Format(report *Report) []byte
}
