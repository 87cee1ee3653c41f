package types

import (
	"path/filepath"
	"strings"
)

type QueueStatus string

const (
	StatusIdle       QueueStatus = "idle"
	StatusWaiting    QueueStatus = "waiting"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
)

func (s QueueStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type ContentKind string

const (
	KindVideo           ContentKind = "video"
	KindAudio           ContentKind = "audio"
	KindDocumentAsVideo ContentKind = "document_video"
	KindSubtitle        ContentKind = "subtitle"
	KindDocument        ContentKind = "document"
)

func (k ContentKind) IsVideo() bool {
	return k == KindVideo || k == KindDocumentAsVideo
}

// MergeMode is pinned on a queue when its first file is accepted.
type MergeMode int

const (
	MergeVideo    MergeMode = 1
	MergeAudio    MergeMode = 2
	MergeSubtitle MergeMode = 3
)

func (m MergeMode) Valid() bool {
	return m == MergeVideo || m == MergeAudio || m == MergeSubtitle
}

func (m MergeMode) String() string {
	switch m {
	case MergeVideo:
		return "video"
	case MergeAudio:
		return "audio"
	case MergeSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

func ParseMergeMode(s string) (MergeMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "video":
		return MergeVideo, true
	case "2", "audio":
		return MergeAudio, true
	case "3", "subtitle", "subtitles":
		return MergeSubtitle, true
	default:
		return 0, false
	}
}

var (
	VideoExtensions    = []string{"mp4", "mkv", "webm"}
	AudioExtensions    = []string{"aac", "ac3", "eac3", "m4a", "mka", "thd", "dts", "mp3", "opus", "ogg", "flac", "wav"}
	SubtitleExtensions = []string{"srt", "vtt", "ass", "ssa", "mks"}
)

func Extension(fileName string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(fileName)), "."))
}

func IsVideoExt(ext string) bool    { return contains(VideoExtensions, ext) }
func IsAudioExt(ext string) bool    { return contains(AudioExtensions, ext) }
func IsSubtitleExt(ext string) bool { return contains(SubtitleExtensions, ext) }

func contains(list []string, item string) bool {
	for _, s := range list {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
