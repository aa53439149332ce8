package backup

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

type FileCompressor struct {
	logger *slog.Logger
}

func NewFileCompressor(conf *Config) *FileCompressor {
	return &FileCompressor{logger: conf.getLogger()}
}

// Compress gzips filePath into filePath+".gz" when it is larger than
// maxSize and returns the new path, removing the original when replace is
// set. Files at or below maxSize are returned untouched. An input that is
// already gzipped is compressed again.
func (c *FileCompressor) Compress(filePath string, maxSize int64, replace bool) (string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("compress %s: %w", filePath, err)
	}
	if info.Size() <= maxSize {
		return filePath, nil
	}

	dst := filePath + ".gz"
	if err := gzipFile(filePath, dst); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("compress %s: %w", filePath, err)
	}
	c.logger.Info("Compressed file", "source", filePath, "destination", dst, "size", info.Size())

	if replace {
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("remove %s: %w", filePath, err)
		}
	}
	return dst, nil
}

// CompressTree applies Compress to every regular file under root. Failures
// are logged per file and do not stop the walk.
func (c *FileCompressor) CompressTree(root string, maxSize int64, replace bool) error {
	files, err := listFiles(root)
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := c.Compress(f, maxSize, replace); err != nil {
			c.logger.Error("failed to compress file", "path", f, "error", err.Error())
		}
	}
	return nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	zw.Name = filepath.Base(src)
	if _, err := io.Copy(zw, in); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

// listFiles returns every regular file below root, walked in lexical order.
func listFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, ErrNotDirectory)
	}

	files := []string{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
