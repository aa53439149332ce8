package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"strings"
)

// megaAlreadyLoggedIn is the exit status of "-login" when a session is
// already open.
const megaAlreadyLoggedIn = 54

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner runs an external program. err is only set when the program
// could not be started; a nonzero exit is reported through ExitCode.
type commandRunner func(ctx context.Context, name string, args ...string) (*commandResult, error)

func execCommand(ctx context.Context, name string, args ...string) (*commandResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &commandResult{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// MegaUploader drives the MEGAcmd command line client. MEGAcmd installs one
// executable per command, so tool is the prefix of mega-version, mega-login
// and mega-put.
type MegaUploader struct {
	tool     string
	login    string
	password string
	run      commandRunner

	logger *slog.Logger
}

var _ UploaderInterface = (*MegaUploader)(nil)

func NewMegaUploader(ctx context.Context, conf *Config) (*MegaUploader, error) {
	return newMegaUploader(ctx, conf, execCommand)
}

func newMegaUploader(ctx context.Context, conf *Config, run commandRunner) (*MegaUploader, error) {
	u := &MegaUploader{
		tool:     firstString([]string{conf.MegaTool, defaultMegaTool}),
		login:    conf.MegaLogin,
		password: conf.MegaPassword,
		run:      run,
		logger:   conf.getLogger(),
	}
	if err := u.checkTool(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploaderAuth, err)
	}
	if err := u.authenticate(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploaderAuth, err)
	}
	return u, nil
}

func (u *MegaUploader) checkTool(ctx context.Context) error {
	cmd := u.command("version")
	res, err := u.run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%s not found, ensure MEGAcmd is installed and in PATH: %w", cmd, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d: %s", cmd, res.ExitCode, res.Stderr)
	}
	u.logger.Info("MEGAcmd is available", "version", res.Stdout)
	return nil
}

// authenticate treats an already open session as a successful login.
func (u *MegaUploader) authenticate(ctx context.Context) error {
	if u.login == "" || u.password == "" {
		return errors.New("mega login and password are required")
	}
	res, err := u.run(ctx, u.command("login"), u.login, u.password)
	if err != nil {
		return err
	}
	switch res.ExitCode {
	case 0:
		u.logger.Info("Logged in to Mega", "output", res.Stdout)
		return nil
	case megaAlreadyLoggedIn:
		u.logger.Info("Already authenticated to Mega")
		return nil
	default:
		return fmt.Errorf("mega login failed with code %d: %s", res.ExitCode, res.Stderr)
	}
}

// UploadFolder copies localPath recursively under the remote folder,
// creating missing remote folders.
func (u *MegaUploader) UploadFolder(ctx context.Context, localPath, remoteTarget string) error {
	remotePath := megaRemotePath(remoteTarget)
	u.logger.Info("Uploading folder to Mega", "path", localPath, "remote", remotePath)

	cmd := u.command("put")
	res, err := u.run(ctx, cmd, "-c", localPath, remotePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: %s exited with code %d: %s", ErrUpload, cmd, res.ExitCode, res.Stderr)
	}
	u.logger.Info("Folder uploaded to Mega", "output", res.Stdout)
	return nil
}

func (u *MegaUploader) command(name string) string {
	return u.tool + "-" + name
}

func megaRemotePath(folder string) string {
	p := path.Join("/", folder)
	if p == "/" {
		return p
	}
	return p + "/"
}
