package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-merger/internal/messages"
	"github.com/BatmanBruc/bat-bot-merger/types"
)

const DefaultAPIURL = "https://api.telegram.org"

// botAPI is the part of *bot.Bot the gateway needs.
type botAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
}

type Telegram struct {
	api    botAPI
	token  string
	apiURL string
	client *http.Client
}

var _ types.Gateway = (*Telegram)(nil)

func NewTelegram(b *bot.Bot, token string) *Telegram {
	return newTelegram(b, token, DefaultAPIURL)
}

func newTelegram(api botAPI, token, apiURL string) *Telegram {
	return &Telegram{
		api:    api,
		token:  token,
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: 30 * time.Minute},
	}
}

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string, buttons [][]types.Button) (types.MessageRef, error) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	}
	if kb := BuildInlineKeyboard(buttons); kb != nil {
		params.ReplyMarkup = kb
	}
	msg, err := t.api.SendMessage(ctx, params)
	if err != nil {
		return types.MessageRef{}, err
	}
	return types.MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

func (t *Telegram) EditText(ctx context.Context, ref types.MessageRef, text string, buttons [][]types.Button) error {
	params := &bot.EditMessageTextParams{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	}
	if kb := BuildInlineKeyboard(buttons); kb != nil {
		params.ReplyMarkup = kb
	}
	_, err := t.api.EditMessageText(ctx, params)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

func (t *Telegram) DeleteMessage(ctx context.Context, ref types.MessageRef) error {
	_, err := t.api.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
	})
	return err
}

func (t *Telegram) DownloadFile(ctx context.Context, sourceRef string, destPath string) error {
	fileInfo, err := t.api.GetFile(ctx, &bot.GetFileParams{
		FileID: sourceRef,
	})
	if err != nil {
		return fmt.Errorf("get file: %w", err)
	}

	fileURL := fmt.Sprintf("%s/file/bot%s/%s", t.apiURL, t.token, fileInfo.FilePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)
		return err
	}
	return out.Close()
}

func (t *Telegram) UploadFile(ctx context.Context, upload types.Upload, progress types.ProgressFunc) error {
	file, err := os.Open(upload.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	fileName := strings.TrimSpace(upload.FileName)
	if fileName == "" {
		fileName = filepath.Base(upload.Path)
	}

	data := &progressReader{r: file, total: info.Size(), fn: progress}
	input := &models.InputFileUpload{Filename: fileName, Data: data}

	if !upload.AsDocument && types.IsVideoExt(types.Extension(fileName)) {
		_, err = t.api.SendVideo(ctx, &bot.SendVideoParams{
			ChatID:            upload.ChatID,
			Video:             input,
			Caption:           upload.Caption,
			SupportsStreaming: true,
		})
		return err
	}

	_, err = t.api.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   upload.ChatID,
		Document: input,
		Caption:  upload.Caption,
	})
	return err
}

// progressReader reports how much of the file the HTTP client has consumed.
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    types.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}

func BuildInlineKeyboard(buttons [][]types.Button) *models.InlineKeyboardMarkup {
	pad := func(s string) string { return " " + s + " " }
	rows := make([][]models.InlineKeyboardButton, 0, len(buttons))
	for _, line := range buttons {
		row := make([]models.InlineKeyboardButton, 0, len(line))
		for _, button := range line {
			row = append(row, models.InlineKeyboardButton{
				Text:         pad(button.Text),
				CallbackData: button.Data,
			})
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}
