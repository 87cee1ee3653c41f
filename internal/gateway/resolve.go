package gateway

import (
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

// ResolveIncomingFile turns a chat message into a queue entry. It reports
// false when the message carries no file.
func ResolveIncomingFile(msg *models.Message) (types.JobEntry, bool) {
	if msg == nil {
		return types.JobEntry{}, false
	}

	switch {
	case msg.Video != nil:
		v := msg.Video
		return types.JobEntry{
			SourceRef:   v.FileID,
			DisplayName: withExt(v.FileName, "video", v.MimeType, "mp4"),
			SizeBytes:   int64(v.FileSize),
			Kind:        types.KindVideo,
		}, true

	case msg.Document != nil:
		d := msg.Document
		name := withExt(d.FileName, "document", d.MimeType, "")
		return types.JobEntry{
			SourceRef:   d.FileID,
			DisplayName: name,
			SizeBytes:   int64(d.FileSize),
			Kind:        documentKind(name, d.MimeType),
		}, true

	case msg.Audio != nil:
		a := msg.Audio
		return types.JobEntry{
			SourceRef:   a.FileID,
			DisplayName: withExt(a.FileName, "audio", a.MimeType, "mp3"),
			SizeBytes:   int64(a.FileSize),
			Kind:        types.KindAudio,
		}, true

	case msg.Voice != nil:
		v := msg.Voice
		return types.JobEntry{
			SourceRef:   v.FileID,
			DisplayName: "voice." + extensionFromMimeType(v.MimeType, "ogg"),
			SizeBytes:   int64(v.FileSize),
			Kind:        types.KindAudio,
		}, true

	case msg.VideoNote != nil:
		v := msg.VideoNote
		return types.JobEntry{
			SourceRef:   v.FileID,
			DisplayName: "video_note.mp4",
			SizeBytes:   int64(v.FileSize),
			Kind:        types.KindVideo,
		}, true
	}
	return types.JobEntry{}, false
}

func documentKind(name, mimeType string) types.ContentKind {
	ext := types.Extension(name)
	switch {
	case types.IsVideoExt(ext):
		return types.KindDocumentAsVideo
	case types.IsAudioExt(ext):
		return types.KindAudio
	case types.IsSubtitleExt(ext):
		return types.KindSubtitle
	case strings.HasPrefix(mimeType, "video/"):
		return types.KindDocumentAsVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return types.KindAudio
	default:
		return types.KindDocument
	}
}

func withExt(fileName, fallback, mimeType, defaultExt string) string {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		ext := extensionFromMimeType(mimeType, defaultExt)
		if ext == "" {
			return fallback
		}
		return fallback + "." + ext
	}
	if !strings.Contains(fileName, ".") {
		if ext := extensionFromMimeType(mimeType, defaultExt); ext != "" {
			return fileName + "." + ext
		}
	}
	return fileName
}

var mimeToExt = map[string]string{
	"mp4":            "mp4",
	"x-matroska":     "mkv",
	"webm":           "webm",
	"quicktime":      "mov",
	"mpeg":           "mp3",
	"mp3":            "mp3",
	"mp4a-latm":      "m4a",
	"x-m4a":          "m4a",
	"aac":            "aac",
	"ac3":            "ac3",
	"eac3":           "eac3",
	"ogg":            "ogg",
	"opus":           "opus",
	"flac":           "flac",
	"x-flac":         "flac",
	"wav":            "wav",
	"x-wav":          "wav",
	"x-subrip":       "srt",
	"vtt":            "vtt",
	"x-ssa":          "ssa",
	"x-ass":          "ass",
	"x-matroska-sub": "mks",
}

func extensionFromMimeType(mimeType string, defaultExt string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(mimeType)), "/")
	if len(parts) != 2 {
		return defaultExt
	}
	subtype := strings.TrimSpace(strings.Split(parts[1], ";")[0])
	if parts[0] == "audio" && subtype == "x-matroska" {
		return "mka"
	}
	if ext, ok := mimeToExt[subtype]; ok {
		return ext
	}
	return defaultExt
}
