package types

import "errors"

var (
	ErrQueueNotFound     = errors.New("queue not found")
	ErrQueueFull         = errors.New("queue is full")
	ErrUnsupportedType   = errors.New("unsupported file type")
	ErrAlreadyRunning    = errors.New("merge already running")
	ErrInsufficientItems = errors.New("not enough files to merge")
	ErrDownloadFailed    = errors.New("download failed")
	ErrDownloadTimeout   = errors.New("download timed out")
	ErrMergeAborted      = errors.New("not enough files downloaded")
	ErrExternalTool      = errors.New("external tool failed")
	ErrUploadFailed      = errors.New("upload failed")
	ErrCancelled         = errors.New("merge cancelled")
)
