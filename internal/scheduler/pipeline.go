package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BatmanBruc/bat-bot-merger/internal/merger"
	"github.com/BatmanBruc/bat-bot-merger/internal/messages"
	"github.com/BatmanBruc/bat-bot-merger/internal/progress"
	"github.com/BatmanBruc/bat-bot-merger/types"
)

const (
	stageDownload = "download"
	stageMerge    = "merge"
	stageUpload   = "upload"
	stageArchive  = "archive"
)

func (s *Scheduler) process(run *Run) {
	run.begin()
	log.Printf("Run %s: processing %d files for user %d", run.ID, len(run.queue.Items), run.UserID)
	s.finish(run, s.execute(run))
}

// ScratchDir is the directory a user's run downloads into.
func (s *Scheduler) ScratchDir(userID int64) string {
	return filepath.Join(s.cfg.DownloadDir, strconv.FormatInt(userID, 10))
}

func (s *Scheduler) execute(run *Run) error {
	if err := run.ctx.Err(); err != nil {
		return cancelled(err)
	}

	scratch := s.ScratchDir(run.UserID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Printf("Run %s: failed to remove %s: %v", run.ID, scratch, err)
		}
	}()

	reporter := progress.NewReporter(s.ctx, s.renderer(run), s.statusSink(run), s.cfg.ProgressInterval)
	defer reporter.Close()

	paths, err := s.downloadAll(run, scratch, reporter)
	if err != nil {
		return err
	}

	if err := run.ctx.Err(); err != nil {
		return cancelled(err)
	}
	dest, err := s.merge(run, scratch, paths, reporter)
	if err != nil {
		return err
	}

	if err := run.ctx.Err(); err != nil {
		return cancelled(err)
	}
	return s.deliver(run, dest, len(paths), reporter)
}

func (s *Scheduler) downloadAll(run *Run, scratch string, reporter *progress.Reporter) ([]string, error) {
	run.setState(StateDownloading)
	q := run.queue
	count := len(q.Items)
	paths := make([]string, 0, count)

	for i, item := range q.Items {
		if err := run.ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		reporter.Publish(progress.Event{
			Force: true,
			Stage: stageDownload,
			Index: i + 1,
			Count: count,
			Name:  item.DisplayName,
			Total: item.SizeBytes,
		})

		dest := filepath.Join(scratch, localName(i, item))
		if err := s.download(run.ctx, item, dest); err != nil {
			if ctxErr := run.ctx.Err(); ctxErr != nil {
				return nil, cancelled(ctxErr)
			}
			// Tracks are useless without the video they go onto.
			if s.cfg.StrictDownloads || (i == 0 && q.Mode != types.MergeVideo) {
				return nil, err
			}
			log.Printf("Run %s: skipping %q: %v", run.ID, item.DisplayName, err)
			continue
		}
		paths = append(paths, dest)
	}

	if len(paths) < 2 {
		return nil, fmt.Errorf("%w: %d of %d downloaded", types.ErrMergeAborted, len(paths), count)
	}
	return paths, nil
}

func (s *Scheduler) download(ctx context.Context, item types.JobEntry, dest string) error {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	defer cancel()

	err := s.gateway.DownloadFile(dctx, item.SourceRef, dest)
	if err == nil {
		return nil
	}
	_ = os.Remove(dest)
	if ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", types.ErrDownloadTimeout, item.DisplayName, s.cfg.DownloadTimeout)
	}
	return fmt.Errorf("%w: %s: %v", types.ErrDownloadFailed, item.DisplayName, err)
}

func (s *Scheduler) merge(run *Run, scratch string, paths []string, reporter *progress.Reporter) (string, error) {
	run.setState(StateMerging)
	q := run.queue
	reporter.Publish(progress.Event{Force: true, Stage: stageMerge, Count: len(paths)})

	dest := filepath.Join(scratch, mergedName(q))
	mctx, cancel := context.WithTimeout(run.ctx, s.cfg.MergeTimeout)
	defer cancel()

	err := s.merger.Merge(mctx, q.Mode, paths, dest)
	if err == nil {
		return dest, nil
	}
	if ctxErr := run.ctx.Err(); ctxErr != nil {
		return "", cancelled(ctxErr)
	}
	if errors.Is(mctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: timed out after %s: %v", types.ErrExternalTool, s.cfg.MergeTimeout, err)
	}
	if !errors.Is(err, types.ErrExternalTool) {
		return "", fmt.Errorf("%w: %v", types.ErrExternalTool, err)
	}
	return "", err
}

func (s *Scheduler) deliver(run *Run, path string, merged int, reporter *progress.Reporter) error {
	run.setState(StateUploading)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUploadFailed, err)
	}
	name := filepath.Base(path)
	size := info.Size()

	if s.cfg.UploadLimit > 0 && size > s.cfg.UploadLimit {
		if s.archiver == nil {
			return fmt.Errorf("%w: %s is over the %s limit", types.ErrUploadFailed,
				humanize.Bytes(uint64(size)), humanize.Bytes(uint64(s.cfg.UploadLimit)))
		}
		reporter.Publish(progress.Event{Force: true, Stage: stageArchive, Name: name, Total: size})
		return s.archive(run, path, name, size)
	}

	started := run.startedAt()
	reporter.Publish(progress.Event{Force: true, Stage: stageUpload, Name: name, Total: size, Elapsed: time.Since(started)})

	uctx, cancel := context.WithTimeout(run.ctx, s.cfg.UploadTimeout)
	defer cancel()

	err = s.gateway.UploadFile(uctx, types.Upload{
		ChatID:     run.ChatID,
		Path:       path,
		FileName:   name,
		Caption:    messages.MergedCaption(merged),
		AsDocument: s.cfg.UploadAsDocument,
	}, func(sent, total int64) {
		reporter.Publish(progress.Event{
			Stage:   stageUpload,
			Name:    name,
			Current: sent,
			Total:   total,
			Elapsed: time.Since(started),
		})
	})
	if err != nil {
		if ctxErr := run.ctx.Err(); ctxErr != nil {
			return cancelled(ctxErr)
		}
		return fmt.Errorf("%w: %v", types.ErrUploadFailed, err)
	}
	return nil
}

func (s *Scheduler) archive(run *Run, path, name string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUploadFailed, err)
	}
	defer f.Close()

	uctx, cancel := context.WithTimeout(run.ctx, s.cfg.UploadTimeout)
	defer cancel()

	key := fmt.Sprintf("%d/%s/%s", run.UserID, run.ID, name)
	url, err := s.archiver.Store(uctx, key, f, size)
	if err != nil {
		if ctxErr := run.ctx.Err(); ctxErr != nil {
			return cancelled(ctxErr)
		}
		return fmt.Errorf("%w: archive: %v", types.ErrUploadFailed, err)
	}

	if _, err := s.gateway.SendText(uctx, run.ChatID, messages.ArchiveLink(name, url), nil); err != nil {
		return fmt.Errorf("%w: send link: %v", types.ErrUploadFailed, err)
	}
	log.Printf("Run %s: %s archived as %s", run.ID, name, key)
	return nil
}

// finish removes the queue and settles the status message: deleted on
// success, replaced by the reason on failure.
func (s *Scheduler) finish(run *Run, runErr error) {
	status := types.StatusCompleted
	if runErr != nil {
		status = types.StatusFailed
	}
	if err := s.queue.Finish(run.UserID, status); err != nil {
		log.Printf("Run %s: failed to remove queue of user %d: %v", run.ID, run.UserID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ref := run.StatusMessage()
	switch {
	case ref.IsZero():
	case runErr == nil:
		if err := s.gateway.DeleteMessage(ctx, ref); err != nil {
			log.Printf("Failed to delete status message chat=%d msg=%d: %v", ref.ChatID, ref.MessageID, err)
		}
	default:
		if err := s.gateway.EditText(ctx, ref, messages.Error(runErr), nil); err != nil {
			log.Printf("Failed to edit status message chat=%d msg=%d: %v", ref.ChatID, ref.MessageID, err)
		}
	}

	if runErr != nil {
		log.Printf("Run %s: failed for user %d: %v", run.ID, run.UserID, runErr)
	} else {
		log.Printf("Run %s: completed for user %d", run.ID, run.UserID)
	}
	run.end(runErr)
}

func (s *Scheduler) renderer(run *Run) progress.RenderFunc {
	mode := run.queue.Mode
	return func(ev progress.Event) string {
		switch ev.Stage {
		case stageDownload:
			return messages.Downloading(ev.Index, ev.Count, ev.Name, ev.Total)
		case stageMerge:
			return messages.Merging(ev.Count, mode)
		case stageUpload:
			return messages.Uploading(ev.Name, progress.RenderProgress(ev.Current, ev.Total, ev.Elapsed.Seconds()))
		case stageArchive:
			return messages.Archiving(ev.Name, ev.Total)
		default:
			return ""
		}
	}
}

func (s *Scheduler) statusSink(run *Run) progress.SinkFunc {
	return func(ctx context.Context, text string) error {
		ref := run.StatusMessage()
		if ref.IsZero() {
			return nil
		}
		return s.gateway.EditText(ctx, ref, text, cancelButtons())
	}
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %v", types.ErrCancelled, err)
}

func localName(index int, item types.JobEntry) string {
	return fmt.Sprintf("%02d_%s", index+1, safeName(item.DisplayName))
}

func mergedName(q *types.UserQueue) string {
	base := "merged"
	if len(q.Items) > 0 {
		first := safeName(q.Items[0].DisplayName)
		if stem := strings.TrimSuffix(first, filepath.Ext(first)); stem != "" && stem != "file" {
			base = stem + "_merged"
		}
	}
	return base + "." + merger.OutputExt(q.Mode, q.Format)
}

func safeName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '/' || r == 0x7f {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "file"
	}
	return name
}
