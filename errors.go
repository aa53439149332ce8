package backup

import "errors"

var (
	ErrMissingToken = errors.New("slack token is not set")
	ErrSlackAuth    = errors.New("slack authentication failed")
	ErrUploaderAuth = errors.New("could not authenticate to uploader service")
	ErrNoChannels   = errors.New("no channels found in the workspace")
	ErrNotDirectory = errors.New("not a directory")
	ErrUpload       = errors.New("upload failed")
)
