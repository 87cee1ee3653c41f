package messages

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

const ParseModeHTML = "HTML"

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

func FileLine(fileName string) string {
	name := strings.TrimSpace(fileName)
	if name == "" {
		name = "file"
	}
	return fmt.Sprintf("📄 <b>File:</b> %s", Escape(name))
}

func sizeOf(n int64) string {
	if n <= 0 {
		return "unknown size"
	}
	return humanize.Bytes(uint64(n))
}

func ModeName(mode types.MergeMode) string {
	switch mode {
	case types.MergeVideo:
		return "Video + Video"
	case types.MergeAudio:
		return "Video + Audio"
	case types.MergeSubtitle:
		return "Video + Subtitle"
	default:
		return "Unknown"
	}
}

func StartWelcome(firstName string) string {
	name := Escape(firstName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("👋 <b>Hi %s!</b>\nI merge videos, audio tracks and subtitles.\n\n", name) +
		"📎 Send the files one by one, then press <b>Merge Now</b>.\n" +
		"ℹ️ /help shows everything I can do."
}

func Help(maxItems int) string {
	return "📚 <b>Merge Bot Help</b>\n\n" +
		"1. Pick a mode with /mode\n" +
		fmt.Sprintf("2. Send up to %d files. In video mode they must share one format (%s)\n", maxItems, strings.Join(types.VideoExtensions, ", ")) +
		"3. Press <b>Merge Now</b> or send /merge\n\n" +
		"<b>Commands</b>\n" +
		"/mode - change merge mode\n" +
		"/queue - show queued files\n" +
		"/merge - start merging\n" +
		"/cancel - clear the queue or stop a running merge\n" +
		"/login &lt;password&gt; - get access"
}

func NotAllowed() string {
	return "🔐 <b>Access required</b>\nSend /login &lt;password&gt; to use the bot."
}

func Banned() string {
	return "⛔ <b>You are banned from using this bot.</b>"
}

func LoginOK() string {
	return "✅ <b>Access granted</b>\nSend me the files to merge."
}

func LoginFailed() string {
	return "🚫 <b>Wrong password</b>"
}

func ModeMenu(current types.MergeMode) string {
	return fmt.Sprintf("🎛 <b>Merge mode:</b> %s\nChoose a new one:", ModeName(current))
}

func ModeChanged(mode types.MergeMode) string {
	return fmt.Sprintf("✅ <b>Merge mode set:</b> %s", ModeName(mode))
}

func QueuePrompt(q *types.UserQueue, maxItems int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📥 <b>Queued %d/%d</b> (%s)\n", len(q.Items), maxItems, ModeName(q.Mode)))
	writeItems(&sb, q.Items)
	if len(q.Items) >= maxItems {
		sb.WriteString("\n✅ <b>Maximum reached!</b> Press <b>Merge Now</b>")
	} else {
		sb.WriteString("\nSend more files or press <b>Merge Now</b>")
	}
	return sb.String()
}

// QueueInProgress lists the files of a queue that is being merged.
func QueueInProgress(q *types.UserQueue) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⚙️ <b>Merging %d files</b> (%s)\n", len(q.Items), ModeName(q.Mode)))
	writeItems(&sb, q.Items)
	sb.WriteString("\nNew files can be sent once it finishes, or /cancel")
	return sb.String()
}

func writeItems(sb *strings.Builder, items []types.JobEntry) {
	for i, item := range items {
		sb.WriteString(fmt.Sprintf("%d. %s <i>(%s)</i>\n", i+1, Escape(item.DisplayName), sizeOf(item.SizeBytes)))
	}
}

func QueueEmpty() string {
	return "📭 <b>Your queue is empty</b>\nSend a file to start."
}

func QueueCleared() string {
	return "🗑 <b>Queue cleared</b>"
}

func RunCancelled() string {
	return "🛑 <b>Merge cancelled</b>"
}

func RunInterrupted() string {
	return "⏸ <b>The bot is restarting</b>\nYour files are kept. Send /merge again in a minute."
}

func QueueQueued(fileName string, position int) string {
	return fmt.Sprintf("⏳ <b>Waiting in line:</b> %d\n%s", position, FileLine(fileName))
}

func QueueStarted(fileName string) string {
	return "⚙️ <b>Merge started</b>\n" + FileLine(fileName)
}

func Downloading(index, count int, name string, size int64) string {
	return fmt.Sprintf("📥 <b>Downloading %d/%d</b>\n%s\n💾 %s", index, count, FileLine(name), sizeOf(size))
}

func Merging(count int, mode types.MergeMode) string {
	return fmt.Sprintf("🔀 <b>Merging %d files</b> (%s)…", count, ModeName(mode))
}

func Uploading(name, progressLine string) string {
	return "📤 <b>Uploading</b>\n" + FileLine(name) + "\n\n" + progressLine
}

func Archiving(name string, size int64) string {
	return fmt.Sprintf("☁️ <b>File is too large for chat (%s)</b>\nStoring %s…", sizeOf(size), Escape(name))
}

func ArchiveLink(name, url string) string {
	return fmt.Sprintf("☁️ <b>%s</b>\n<a href=\"%s\">Download merged file</a>", Escape(name), Escape(url))
}

func MergedCaption(count int) string {
	return fmt.Sprintf("✅ Merged %d files", count)
}

func ButtonMergeNow() string { return "🔀 Merge Now" }
func ButtonCancel() string   { return "🗑 Cancel" }

// Error renders a synchronous or run error for the user.
func Error(err error) string {
	switch {
	case err == nil:
		return ErrorDefault()
	case errors.Is(err, types.ErrQueueFull):
		return "🚫 <b>Queue is full</b>\nPress <b>Merge Now</b> or /cancel."
	case errors.Is(err, types.ErrUnsupportedType):
		return "🚫 <b>This file can't be added</b>\n" + Escape(detail(err, types.ErrUnsupportedType))
	case errors.Is(err, types.ErrAlreadyRunning):
		return "⏳ <b>A merge is already running</b>\nWait for it to finish or /cancel."
	case errors.Is(err, types.ErrInsufficientItems):
		return "🚫 <b>Not enough files</b>\nSend at least two files first."
	case errors.Is(err, types.ErrMergeAborted):
		return "🚫 <b>Merge aborted</b>\nFewer than two files could be downloaded."
	case errors.Is(err, types.ErrDownloadTimeout):
		return "⌛ <b>Download timed out</b>"
	case errors.Is(err, types.ErrDownloadFailed):
		return "🚫 <b>Download failed</b>\n" + Escape(detail(err, types.ErrDownloadFailed))
	case errors.Is(err, types.ErrExternalTool):
		return "🚫 <b>Merge failed</b>\nThe files could not be merged. Make sure they share codecs and resolution."
	case errors.Is(err, types.ErrUploadFailed):
		return "🚫 <b>Upload failed</b>\n" + Escape(detail(err, types.ErrUploadFailed))
	case errors.Is(err, types.ErrCancelled):
		return RunCancelled()
	default:
		return ErrorDefault()
	}
}

func detail(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error()
	msg = strings.TrimPrefix(msg, prefix)
	return strings.TrimSpace(strings.TrimPrefix(msg, ":"))
}

func ErrorDefault() string {
	return "🚫 <b>Something went wrong</b>\nPlease try again."
}

func ErrorUnsupportedMessageType() string {
	return "🤖 <b>I can't do that</b>\nSend a video, audio or subtitle file."
}

func ErrorUnknownCommand() string {
	return "❓ <b>Unknown command</b>"
}
