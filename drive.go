package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	driveFolderMimeType = "application/vnd.google-apps.folder"
	driveUploadChunk    = 8 * 1024 * 1024
)

// folderStore is the set of calls the tree mirror needs from a
// folder-hierarchy store.
type folderStore interface {
	FindFolder(ctx context.Context, name, parentID string) (id string, found bool, err error)
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	CreateFile(ctx context.Context, name, parentID string, content io.Reader) (string, error)
}

// DriveUploader reproduces a local directory tree under a Drive folder.
type DriveUploader struct {
	store folderStore

	logger *slog.Logger
}

var _ UploaderInterface = (*DriveUploader)(nil)

func NewDriveUploader(ctx context.Context, conf *Config) (*DriveUploader, error) {
	srv, err := newDriveService(ctx, conf.GoogleCredentialsPath, firstString([]string{conf.GoogleTokenPath, defaultGoogleTokenPath}))
	if err != nil {
		return nil, fmt.Errorf("%w: google drive: %w", ErrUploaderAuth, err)
	}

	// Cheapest call that proves the credentials work.
	if _, err := srv.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("%w: google drive: %w", ErrUploaderAuth, err)
	}
	return newDriveUploaderWithStore(&driveFolderStore{files: srv.Files}, conf.getLogger()), nil
}

func newDriveUploaderWithStore(store folderStore, logger *slog.Logger) *DriveUploader {
	return &DriveUploader{store: store, logger: logger}
}

// newDriveService accepts either a service account key, or OAuth client
// secrets together with a token saved by an earlier consent.
func newDriveService(ctx context.Context, credentialsPath, tokenPath string) (*drive.Service, error) {
	if credentialsPath == "" {
		return nil, errors.New("credentials path is not set")
	}
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, err
	}

	if oauthConf, err := google.ConfigFromJSON(b, drive.DriveFileScope); err == nil {
		tok, err := readOAuthToken(tokenPath)
		if err != nil {
			return nil, fmt.Errorf("read token %s: %w", tokenPath, err)
		}
		return drive.NewService(ctx, option.WithTokenSource(oauthConf.TokenSource(ctx, tok)))
	}

	creds, err := google.CredentialsFromJSON(ctx, b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return drive.NewService(ctx, option.WithCredentials(creds))
}

func readOAuthToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(b, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// UploadFolder mirrors localPath into a folder named after its base name
// under remoteTarget. Folders are created parent first, then every file is
// uploaded into the folder of its directory.
func (u *DriveUploader) UploadFolder(ctx context.Context, localPath, remoteTarget string) error {
	root, err := resolvePath(localPath)
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", root, ErrNotDirectory)
	}

	rootID, err := u.resolveFolder(ctx, filepath.Base(root), remoteTarget)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}

	u.logger.Info("Creating folder structure on Google Drive", "root", root, "folder_id", rootID)
	remoteIDs, err := u.mirrorFolders(ctx, root, rootID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}

	u.logger.Info("Uploading files to Google Drive")
	if err := u.uploadFiles(ctx, root, remoteIDs); err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}

	u.logger.Info("Folder uploaded to Google Drive", "root", root, "parent", remoteTarget)
	return nil
}

// resolveFolder returns the id of the folder called name under parentID,
// creating it only when it does not exist yet.
func (u *DriveUploader) resolveFolder(ctx context.Context, name, parentID string) (string, error) {
	id, found, err := u.store.FindFolder(ctx, name, parentID)
	if err != nil {
		return "", err
	}
	if found {
		u.logger.Info("Reusing existing Drive folder", "name", name, "folder_id", id)
		return id, nil
	}
	return u.store.CreateFolder(ctx, name, parentID)
}

// mirrorFolders walks the local tree breadth first. A directory is only
// resolved remotely once the entry of its parent exists in the returned map,
// which is keyed by absolute local path. Folders left by an earlier upload
// of the same tree are reused.
func (u *DriveUploader) mirrorFolders(ctx context.Context, root, rootID string) (map[string]string, error) {
	remoteIDs := map[string]string{root: rootID}
	queue := []string{root}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]
		parentID := remoteIDs[dir]

		subdirs, err := subdirectories(dir)
		if err != nil {
			return nil, err
		}
		for _, sub := range subdirs {
			id, err := u.resolveFolder(ctx, filepath.Base(sub), parentID)
			if err != nil {
				return nil, fmt.Errorf("resolve folder %s: %w", sub, err)
			}
			remoteIDs[sub] = id
			queue = append(queue, sub)
			u.logger.Info("Folder ready on Drive", "path", relPath(root, sub), "folder_id", id)
		}
	}
	return remoteIDs, nil
}

func (u *DriveUploader) uploadFiles(ctx context.Context, root string, remoteIDs map[string]string) error {
	files, err := listFiles(root)
	if err != nil {
		return err
	}
	for _, f := range files {
		parentID, ok := remoteIDs[filepath.Dir(f)]
		if !ok {
			return fmt.Errorf("no remote folder for %s", filepath.Dir(f))
		}
		if err := u.uploadFile(ctx, f, parentID); err != nil {
			return fmt.Errorf("upload %s: %w", f, err)
		}
		u.logger.Info("File uploaded", "path", relPath(root, f))
	}
	return nil
}

func (u *DriveUploader) uploadFile(ctx context.Context, path, parentID string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = u.store.CreateFile(ctx, filepath.Base(path), parentID, f)
	return err
}

func subdirectories(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	dirs := []string{}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

// driveFolderStore implements folderStore on the Drive v3 files API.
type driveFolderStore struct {
	files *drive.FilesService
}

func (s *driveFolderStore) FindFolder(ctx context.Context, name, parentID string) (string, bool, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeDriveQuery(name), escapeDriveQuery(parentID), driveFolderMimeType)
	res, err := s.files.List().
		Q(q).
		Fields("files(id, name)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, err
	}
	if len(res.Files) == 0 {
		return "", false, nil
	}
	return res.Files[0].Id, true, nil
}

func (s *driveFolderStore) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	meta := &drive.File{
		Name:     name,
		Parents:  []string{parentID},
		MimeType: driveFolderMimeType,
	}
	f, err := s.files.Create(meta).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (s *driveFolderStore) CreateFile(ctx context.Context, name, parentID string, content io.Reader) (string, error) {
	meta := &drive.File{
		Name:    name,
		Parents: []string{parentID},
	}
	f, err := s.files.Create(meta).
		Media(content, googleapi.ChunkSize(driveUploadChunk)).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func escapeDriveQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
