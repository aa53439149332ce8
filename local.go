package backup

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

type NoneNotifier struct{}

var _ NotifierInterface = (*NoneNotifier)(nil)

func (_ *NoneNotifier) Notify(_ context.Context, _ *Report) error { return nil }

// LocalArchiver packs an export directory into a single <dir>.tar.gz next to
// it and removes the directory once the archive is complete.
type LocalArchiver struct {
	keepSource bool

	logger *slog.Logger
}

var _ ArchiverInterface = (*LocalArchiver)(nil)

func NewLocalArchiver(conf *Config) *LocalArchiver {
	return &LocalArchiver{
		keepSource: !conf.Cleanup,
		logger:     conf.getLogger(),
	}
}

func (a *LocalArchiver) Archive(dir string) (string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	files, err := listFiles(root)
	if err != nil {
		return "", err
	}

	dst := root + ".tar.gz"
	if err := writeTarGz(root, files, dst); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("archive %s: %w", root, err)
	}
	a.logger.Info("Archive written", "source", root, "destination", dst, "files", len(files))

	if !a.keepSource {
		if err := os.RemoveAll(root); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func writeTarGz(root string, files []string, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	tw := tar.NewWriter(zw)
	base := filepath.Base(root)
	for _, file := range files {
		if err := addTarFile(tw, file, filepath.ToSlash(filepath.Join(base, relPath(root, file)))); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func addTarFile(tw *tar.Writer, srcPath, name string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, src); err != nil {
		return err
	}
	return nil
}
