package types

import "context"

type Button struct {
	Text string
	Data string
}

type Upload struct {
	ChatID     int64
	Path       string
	FileName   string
	Caption    string
	AsDocument bool
}

// ProgressFunc is called from inside a transfer; it must return quickly.
type ProgressFunc func(sent, total int64)

type Gateway interface {
	SendText(ctx context.Context, chatID int64, text string, buttons [][]Button) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, buttons [][]Button) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	DownloadFile(ctx context.Context, sourceRef string, destPath string) error
	UploadFile(ctx context.Context, upload Upload, progress ProgressFunc) error
}
