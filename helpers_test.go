package backup

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	conf := DefaultConfig()
	conf.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	conf.SlackToken = "xoxb-test"
	conf.BackupDir = t.TempDir()
	conf.now = func() time.Time { return time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC) }
	return conf
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// snapshotTree maps every file below root, relative to root, to its content.
func snapshotTree(t *testing.T, root string) map[string]string {
	t.Helper()
	files, err := listFiles(root)
	require.NoError(t, err)
	res := map[string]string{}
	for _, f := range files {
		b, err := os.ReadFile(f)
		require.NoError(t, err)
		res[relPath(root, f)] = string(b)
	}
	return res
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
