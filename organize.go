package backup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type FileOrganizer struct {
	logger *slog.Logger
}

func NewFileOrganizer(conf *Config) *FileOrganizer {
	return &FileOrganizer{logger: conf.getLogger()}
}

// Organize groups the files of every immediate subdirectory of baseFolder
// into subfolders named after their lowercase extension. Files without an
// extension belong to the "" group, which is the subdirectory itself.
func (o *FileOrganizer) Organize(baseFolder string) error {
	info, err := os.Stat(baseFolder)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("base folder %s: %w", baseFolder, ErrNotDirectory)
	}

	entries, err := os.ReadDir(baseFolder)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		folder := filepath.Join(baseFolder, entry.Name())
		groups, err := filesByExtension(folder)
		if err != nil {
			return err
		}

		exts := make([]string, 0, len(groups))
		for ext := range groups {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		for _, ext := range exts {
			target := filepath.Join(folder, ext)
			if info, err := os.Stat(target); err == nil && !info.IsDir() {
				o.logger.Warn("extension folder name is taken by a file, group left in place", "folder", folder, "extension", ext)
				continue
			}
			if err := o.moveFiles(groups[ext], target); err != nil {
				return err
			}
		}
	}
	return nil
}

func filesByExtension(folder string) (map[string][]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}
	groups := map[string][]string{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ext := fileExtension(entry.Name())
		groups[ext] = append(groups[ext], filepath.Join(folder, entry.Name()))
	}
	return groups, nil
}

// fileExtension returns the lowercase extension without the dot. Dotfiles
// such as ".env" have no extension.
func fileExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == name {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func (o *FileOrganizer) moveFiles(files []string, target string) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("move %s: %w", f, err)
		}
		dst := filepath.Join(target, filepath.Base(f))
		if dst == f {
			continue
		}
		if err := os.Rename(f, dst); err != nil {
			return err
		}
		o.logger.Info("Moved file", "source", f, "destination", dst)
	}
	return nil
}
