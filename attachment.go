package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// attachments are flushed to disk in chunks of this size
const attachmentChunkSize = 8192

type fileDownloader interface {
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
}

type AttachmentResolver struct {
	client       fileDownloader
	skipExisting bool

	logger *slog.Logger
}

func NewAttachmentResolver(conf *Config, client fileDownloader) *AttachmentResolver {
	return &AttachmentResolver{
		client:       client,
		skipExisting: conf.SkipExistingAttachments,
		logger:       conf.getLogger(),
	}
}

// Download fetches every file referenced by the channel documents in
// exportPath into exportPath/<channel>/. A failed attachment is logged and
// the remaining ones are still processed.
func (r *AttachmentResolver) Download(ctx context.Context, exportPath, fileSuffix string) error {
	r.logger.Info("Starting attachment download", "path", exportPath)

	entries, err := os.ReadDir(exportPath)
	if err != nil {
		return err
	}

	downloaded, failed := 0, 0
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == channelsFileName || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		jsonPath := filepath.Join(exportPath, entry.Name())
		refs, err := readFileReferences(jsonPath)
		if err != nil {
			r.logger.Error("failed to read channel document", "path", jsonPath, "error", err.Error())
			continue
		}
		if len(refs) == 0 {
			continue
		}

		attachmentDir := filepath.Join(exportPath, strings.TrimSuffix(entry.Name(), ".json"))
		if err := os.MkdirAll(attachmentDir, 0755); err != nil {
			r.logger.Error("failed to create attachment directory", "path", attachmentDir, "error", err.Error())
			continue
		}

		for _, ref := range refs {
			dst := filepath.Join(attachmentDir, suffixedName(filepath.Base(ref.Name), fileSuffix))
			if r.skipExisting {
				if _, err := os.Stat(dst); err == nil {
					r.logger.Info("Attachment already present, skipped", "path", dst)
					continue
				}
			}
			if err := r.downloadFile(ctx, ref.DownloadURL, dst); err != nil {
				failed++
				r.logger.Error("failed to download attachment", "name", ref.Name, "url", ref.DownloadURL, "error", err.Error())
				continue
			}
			downloaded++
			r.logger.Info("Downloaded attachment", "path", dst)
		}
	}

	r.logger.Info(fmt.Sprintf("AttachmentResolver: download complete. downloaded: %d, failed: %d", downloaded, failed))
	return nil
}

func (r *AttachmentResolver) downloadFile(ctx context.Context, url, dst string) (err error) {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	w := bufio.NewWriterSize(f, attachmentChunkSize)
	if err := r.client.GetFileContext(ctx, url, w); err != nil {
		return err
	}
	return w.Flush()
}

func readFileReferences(path string) ([]FileReference, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := struct {
		Messages []struct {
			Files []FileReference `json:"files"`
		} `json:"messages"`
	}{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}

	refs := []FileReference{}
	for _, msg := range doc.Messages {
		for _, f := range msg.Files {
			if f.DownloadURL == "" {
				continue
			}
			refs = append(refs, f)
		}
	}
	return refs, nil
}

// suffixedName inserts suffix before the last extension of name, or appends
// it when name has none.
func suffixedName(name, suffix string) string {
	if suffix == "" {
		return name
	}
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return name + suffix
	}
	return name[:i] + suffix + name[i:]
}
