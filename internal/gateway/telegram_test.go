package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

type fakeBot struct {
	mu        sync.Mutex
	sent      []*bot.SendMessageParams
	edited    []*bot.EditMessageTextParams
	videos    []*bot.SendVideoParams
	documents []*bot.SendDocumentParams
	uploaded  []byte
	editErr   error
	filePath  string
}

func (f *fakeBot) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, params)
	return &models.Message{ID: 100 + len(f.sent)}, nil
}

func (f *fakeBot) EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, params)
	return &models.Message{ID: params.MessageID}, f.editErr
}

func (f *fakeBot) DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error) {
	return true, nil
}

func (f *fakeBot) GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error) {
	if params.FileID == "missing" {
		return nil, errors.New("Bad Request: file is too big")
	}
	return &models.File{FileID: params.FileID, FilePath: f.filePath}, nil
}

func (f *fakeBot) consume(input models.InputFile) error {
	upload, ok := input.(*models.InputFileUpload)
	if !ok {
		return errors.New("unexpected input file")
	}
	data, err := io.ReadAll(upload.Data)
	if err != nil {
		return err
	}
	f.uploaded = data
	return nil
}

func (f *fakeBot) SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos = append(f.videos, params)
	return &models.Message{ID: 1}, f.consume(params.Video)
}

func (f *fakeBot) SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, params)
	return &models.Message{ID: 1}, f.consume(params.Document)
}

func TestSendAndEditText(t *testing.T) {
	fb := &fakeBot{}
	tg := newTelegram(fb, "TOKEN", DefaultAPIURL)

	ref, err := tg.SendText(context.Background(), 5, "<b>hi</b>", [][]types.Button{{{Text: "Merge Now", Data: "merge"}}})
	require.NoError(t, err)
	require.Equal(t, types.MessageRef{ChatID: 5, MessageID: 101}, ref)
	require.Equal(t, models.ParseModeHTML, fb.sent[0].ParseMode)
	kb, ok := fb.sent[0].ReplyMarkup.(*models.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Equal(t, "merge", kb.InlineKeyboard[0][0].CallbackData)

	_, err = tg.SendText(context.Background(), 5, "plain", nil)
	require.NoError(t, err)
	require.Nil(t, fb.sent[1].ReplyMarkup)

	fb.editErr = errors.New("Bad Request: message is not modified")
	require.NoError(t, tg.EditText(context.Background(), ref, "same", nil))

	fb.editErr = errors.New("Bad Request: message to edit not found")
	require.Error(t, tg.EditText(context.Background(), ref, "other", nil))
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file/botTOKEN/videos/file_1.mp4" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "video-bytes")
	}))
	defer srv.Close()

	fb := &fakeBot{filePath: "videos/file_1.mp4"}
	tg := newTelegram(fb, "TOKEN", srv.URL)
	dest := filepath.Join(t.TempDir(), "42", "01_a.mp4")

	require.NoError(t, tg.DownloadFile(context.Background(), "file-id", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "video-bytes", string(data))

	require.Error(t, tg.DownloadFile(context.Background(), "missing", dest+".2"))

	fb.filePath = "videos/gone.mp4"
	err = tg.DownloadFile(context.Background(), "file-id", dest+".3")
	require.ErrorContains(t, err, "404")
	_, statErr := os.Stat(dest + ".3")
	require.True(t, os.IsNotExist(statErr))
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "merged.mp4")
	payload := strings.Repeat("x", 100_000)
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	t.Run("video with progress", func(t *testing.T) {
		fb := &fakeBot{}
		tg := newTelegram(fb, "TOKEN", DefaultAPIURL)

		var last, total int64
		calls := 0
		err := tg.UploadFile(context.Background(), types.Upload{ChatID: 5, Path: path, FileName: "merged.mp4", Caption: "done"},
			func(sent, tot int64) {
				require.GreaterOrEqual(t, sent, last)
				last, total = sent, tot
				calls++
			})
		require.NoError(t, err)
		require.Len(t, fb.videos, 1)
		require.True(t, fb.videos[0].SupportsStreaming)
		require.Equal(t, "done", fb.videos[0].Caption)
		require.Equal(t, payload, string(fb.uploaded))
		require.Positive(t, calls)
		require.Equal(t, int64(len(payload)), last)
		require.Equal(t, int64(len(payload)), total)
	})

	t.Run("as document", func(t *testing.T) {
		fb := &fakeBot{}
		tg := newTelegram(fb, "TOKEN", DefaultAPIURL)
		err := tg.UploadFile(context.Background(), types.Upload{ChatID: 5, Path: path, AsDocument: true}, nil)
		require.NoError(t, err)
		require.Empty(t, fb.videos)
		require.Len(t, fb.documents, 1)
		require.Equal(t, "merged.mp4", fb.documents[0].Document.(*models.InputFileUpload).Filename)
	})
}

func TestBuildInlineKeyboard(t *testing.T) {
	require.Nil(t, BuildInlineKeyboard(nil))
	require.Nil(t, BuildInlineKeyboard([][]types.Button{{}}))

	kb := BuildInlineKeyboard([][]types.Button{
		{{Text: "1", Data: "mode_1"}, {Text: "2", Data: "mode_2"}},
		{{Text: "Cancel", Data: "cancel"}},
	})
	require.Len(t, kb.InlineKeyboard, 2)
	require.Len(t, kb.InlineKeyboard[0], 2)
	require.Equal(t, " Cancel ", kb.InlineKeyboard[1][0].Text)
}

func TestResolveIncomingFile(t *testing.T) {
	cases := []struct {
		name string
		msg  *models.Message
		want types.JobEntry
		ok   bool
	}{
		{
			name: "video",
			msg:  &models.Message{Video: &models.Video{FileID: "v1", FileName: "clip.mp4", FileSize: 1024, MimeType: "video/mp4"}},
			want: types.JobEntry{SourceRef: "v1", DisplayName: "clip.mp4", SizeBytes: 1024, Kind: types.KindVideo},
			ok:   true,
		},
		{
			name: "video without a name",
			msg:  &models.Message{Video: &models.Video{FileID: "v2", MimeType: "video/x-matroska"}},
			want: types.JobEntry{SourceRef: "v2", DisplayName: "video.mkv", Kind: types.KindVideo},
			ok:   true,
		},
		{
			name: "document as video",
			msg:  &models.Message{Document: &models.Document{FileID: "d1", FileName: "Part 2.MKV", FileSize: 10}},
			want: types.JobEntry{SourceRef: "d1", DisplayName: "Part 2.MKV", SizeBytes: 10, Kind: types.KindDocumentAsVideo},
			ok:   true,
		},
		{
			name: "subtitle document",
			msg:  &models.Message{Document: &models.Document{FileID: "d2", FileName: "en.srt"}},
			want: types.JobEntry{SourceRef: "d2", DisplayName: "en.srt", Kind: types.KindSubtitle},
			ok:   true,
		},
		{
			name: "audio document by mime",
			msg:  &models.Message{Document: &models.Document{FileID: "d3", FileName: "track", MimeType: "audio/x-m4a"}},
			want: types.JobEntry{SourceRef: "d3", DisplayName: "track.m4a", Kind: types.KindAudio},
			ok:   true,
		},
		{
			name: "plain document",
			msg:  &models.Message{Document: &models.Document{FileID: "d4", FileName: "notes.pdf", MimeType: "application/pdf"}},
			want: types.JobEntry{SourceRef: "d4", DisplayName: "notes.pdf", Kind: types.KindDocument},
			ok:   true,
		},
		{
			name: "audio",
			msg:  &models.Message{Audio: &models.Audio{FileID: "a1", MimeType: "audio/mpeg"}},
			want: types.JobEntry{SourceRef: "a1", DisplayName: "audio.mp3", Kind: types.KindAudio},
			ok:   true,
		},
		{
			name: "text",
			msg:  &models.Message{Text: "hello"},
			ok:   false,
		},
		{
			name: "nil",
			ok:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveIncomingFile(tc.msg)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}
