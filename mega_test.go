package backup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	results map[string]*commandResult
	calls   []string
}

func (r *scriptedRunner) run(_ context.Context, name string, args ...string) (*commandResult, error) {
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	res, ok := r.results[name]
	if !ok {
		return &commandResult{}, nil
	}
	if res == nil {
		return nil, errors.New("executable file not found in $PATH")
	}
	return res, nil
}

func megaConfig(t *testing.T) *Config {
	conf := testConfig(t)
	conf.Uploader = UploaderMega
	conf.MegaLogin = "backup@example.com"
	conf.MegaPassword = "secret"
	return conf
}

func TestMegaUploader_AlreadyLoggedIn(t *testing.T) {
	r := &scriptedRunner{results: map[string]*commandResult{
		"mega-login": {ExitCode: megaAlreadyLoggedIn, Stderr: "already logged in"},
	}}
	u, err := newMegaUploader(context.Background(), megaConfig(t), r.run)
	require.NoError(t, err)

	require.NoError(t, u.UploadFolder(context.Background(), "/tmp/slack_backup_x", "backups/slack"))
	assert.Equal(t, []string{
		"mega-version",
		"mega-login backup@example.com secret",
		"mega-put -c /tmp/slack_backup_x /backups/slack/",
	}, r.calls)
}

func TestMegaUploader_LoginFailure(t *testing.T) {
	r := &scriptedRunner{results: map[string]*commandResult{
		"mega-login": {ExitCode: 9, Stderr: "invalid credentials"},
	}}
	_, err := newMegaUploader(context.Background(), megaConfig(t), r.run)
	assert.ErrorIs(t, err, ErrUploaderAuth)
	assert.ErrorContains(t, err, "invalid credentials")
}

func TestMegaUploader_MissingTool(t *testing.T) {
	r := &scriptedRunner{results: map[string]*commandResult{"mega-version": nil}}
	_, err := newMegaUploader(context.Background(), megaConfig(t), r.run)
	assert.ErrorIs(t, err, ErrUploaderAuth)
	assert.Len(t, r.calls, 1)
}

func TestMegaUploader_MissingCredentials(t *testing.T) {
	conf := megaConfig(t)
	conf.MegaPassword = ""
	r := &scriptedRunner{}
	_, err := newMegaUploader(context.Background(), conf, r.run)
	assert.ErrorIs(t, err, ErrUploaderAuth)
}

func TestMegaUploader_PutFailure(t *testing.T) {
	r := &scriptedRunner{results: map[string]*commandResult{
		"mega-put": {ExitCode: 1, Stderr: "over quota"},
	}}
	u, err := newMegaUploader(context.Background(), megaConfig(t), r.run)
	require.NoError(t, err)

	err = u.UploadFolder(context.Background(), "/tmp/x", "")
	assert.ErrorIs(t, err, ErrUpload)
	assert.ErrorContains(t, err, "over quota")
	assert.Equal(t, "mega-put -c /tmp/x /", r.calls[len(r.calls)-1])
}

func TestMegaRemotePath(t *testing.T) {
	assert.Equal(t, "/", megaRemotePath(""))
	assert.Equal(t, "/", megaRemotePath("/"))
	assert.Equal(t, "/backups/", megaRemotePath("backups"))
	assert.Equal(t, "/a/b/", megaRemotePath("/a/b/"))
}

func TestMegaUploader_ToolPrefix(t *testing.T) {
	conf := megaConfig(t)
	conf.MegaTool = "/opt/megacmd/bin/mega"
	r := &scriptedRunner{}
	u, err := newMegaUploader(context.Background(), conf, r.run)
	require.NoError(t, err)
	require.NoError(t, u.UploadFolder(context.Background(), "/tmp/x", "b"))

	assert.Equal(t, []string{
		"/opt/megacmd/bin/mega-version",
		"/opt/megacmd/bin/mega-login backup@example.com secret",
		"/opt/megacmd/bin/mega-put -c /tmp/x /b/",
	}, r.calls)
}
