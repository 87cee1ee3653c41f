package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/bat-bot-merger/internal/merger"
	"github.com/BatmanBruc/bat-bot-merger/internal/messages"
	"github.com/BatmanBruc/bat-bot-merger/internal/queue"
	"github.com/BatmanBruc/bat-bot-merger/store"
	"github.com/BatmanBruc/bat-bot-merger/types"
)

const (
	userID = int64(42)
	chatID = int64(4200)
	mb     = int64(1 << 20)
)

type harness struct {
	sched    *Scheduler
	queue    *queue.Manager
	gateway  *fakeGateway
	merger   *fakeMerger
	archiver *fakeArchiver
	dir      string
}

func newHarness(t *testing.T, opts ...func(*Config, *harness)) *harness {
	t.Helper()
	h := &harness{
		queue:   queue.NewManager(store.NewMemoryQueueStore(), 10),
		gateway: newFakeGateway(),
		merger:  newFakeMerger(),
		dir:     t.TempDir(),
	}
	cfg := Config{
		Workers:         3,
		MinMergeItems:   2,
		DownloadDir:     h.dir,
		DownloadTimeout: 5 * time.Second,
		MergeTimeout:    5 * time.Second,
		UploadTimeout:   5 * time.Second,
		UploadLimit:     50 * mb,
	}
	for _, opt := range opts {
		opt(&cfg, h)
	}

	var archiver Archiver
	if h.archiver != nil {
		archiver = h.archiver
	}
	h.sched = NewScheduler(h.queue, h.gateway, h.merger, archiver, cfg)
	h.sched.Start()
	t.Cleanup(h.sched.Stop)
	return h
}

func (h *harness) enqueue(t *testing.T, user int64, mode types.MergeMode, entries ...types.JobEntry) {
	t.Helper()
	for _, e := range entries {
		_, err := h.queue.Enqueue(user, e, mode)
		require.NoError(t, err)
	}
}

func (h *harness) assertCleanedUp(t *testing.T, user int64) {
	t.Helper()
	_, err := os.Stat(h.sched.ScratchDir(user))
	require.True(t, os.IsNotExist(err), "scratch dir still exists")
	_, err = h.queue.Get(user)
	require.ErrorIs(t, err, types.ErrQueueNotFound)
	require.Nil(t, h.sched.Active(user))
}

func waitDone(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("run %s did not finish, state=%s", run.ID, run.State())
	}
}

func waitEntered(t *testing.T, m *fakeMerger) {
	t.Helper()
	select {
	case <-m.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("merge was never started")
	}
}

func waitForget(t *testing.T, s *Scheduler, user int64) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Active(user) == nil }, 5*time.Second, 10*time.Millisecond)
}

func videoEntry(name string, size int64) types.JobEntry {
	return types.JobEntry{SourceRef: "src-" + name, DisplayName: name, SizeBytes: size, Kind: types.KindVideo}
}

func threeVideos() []types.JobEntry {
	return []types.JobEntry{
		videoEntry("part1.mp4", 10*mb),
		videoEntry("part2.mp4", 20*mb),
		videoEntry("part3.mp4", 30*mb),
	}
}

func TestRun_ThreeVideosDone(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, userID, types.MergeVideo, threeVideos()...)
	require.Equal(t, 3, h.queue.CurrentSize(userID))

	run, err := h.sched.Submit(context.Background(), userID, chatID)
	require.NoError(t, err)
	require.Equal(t, 0, run.Position())
	waitDone(t, run)
	waitForget(t, h.sched, userID)

	require.Equal(t, StateDone, run.State())
	require.NoError(t, run.Err())
	h.assertCleanedUp(t, userID)

	require.Len(t, h.merger.calls, 1)
	var names []string
	for _, p := range h.merger.calls[0] {
		names = append(names, filepath.Base(p))
	}
	require.Equal(t, []string{"01_part1.mp4", "02_part2.mp4", "03_part3.mp4"}, names)

	require.Len(t, h.gateway.uploads, 1)
	require.Equal(t, "part1_merged.mp4", h.gateway.uploads[0].FileName)
	require.Equal(t, chatID, h.gateway.uploads[0].ChatID)

	status := run.StatusMessage()
	ops := h.gateway.opsFor(status)
	require.NotEmpty(t, ops)
	require.Equal(t, "delete", ops[len(ops)-1].kind)
	require.Equal(t, 1, h.gateway.count("delete", ""))
	for _, op := range ops {
		require.NotEqual(t, messages.Error(types.ErrExternalTool), op.text)
	}
}

func TestSubmit_InsufficientItems(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, userID, types.MergeVideo, videoEntry("only.mp4", mb))

	run, err := h.sched.Submit(context.Background(), userID, chatID)
	require.ErrorIs(t, err, types.ErrInsufficientItems)
	require.Nil(t, run)

	q, err := h.queue.Get(userID)
	require.NoError(t, err)
	require.Equal(t, types.StatusWaiting, q.Status)
	require.Len(t, q.Items, 1)
	require.Nil(t, h.sched.Active(userID))
	require.Equal(t, 0, h.gateway.count("send", ""))
}

func TestRun_ToolErrorFails(t *testing.T) {
	h := newHarness(t)
	h.merger.err = &merger.ToolError{Tool: "ffmpeg", Err: errors.New("exit status 1"), Output: "Invalid data"}
	h.enqueue(t, userID, types.MergeVideo, threeVideos()...)

	run, err := h.sched.Submit(context.Background(), userID, chatID)
	require.NoError(t, err)
	waitDone(t, run)
	waitForget(t, h.sched, userID)

	require.Equal(t, StateFailed, run.State())
	require.ErrorIs(t, run.Err(), types.ErrExternalTool)
	h.assertCleanedUp(t, userID)

	failure := messages.Error(run.Err())
	require.Equal(t, 1, h.gateway.count("edit", failure))
	require.Equal(t, 0, h.gateway.count("delete", ""))
	ops := h.gateway.opsFor(run.StatusMessage())
	require.Equal(t, failure, ops[len(ops)-1].text)
	require.Empty(t, h.gateway.uploads)
}

func TestSubmit_AlreadyRunning(t *testing.T) {
	h := newHarness(t)
	h.merger.gate = make(chan struct{})
	h.enqueue(t, userID, types.MergeVideo, threeVideos()...)

	run, err := h.sched.Submit(context.Background(), userID, chatID)
	require.NoError(t, err)
	waitEntered(t, h.merger)

	_, err = h.sched.Submit(context.Background(), userID, chatID)
	require.ErrorIs(t, err, types.ErrAlreadyRunning)
	require.Equal(t, StateMerging, run.State())

	// A queue cleared and refilled during the run still can't start a second one.
	require.NoError(t, h.queue.Clear(userID))
	h.enqueue(t, userID, types.MergeVideo, videoEntry("a.mp4", 1), videoEntry("b.mp4", 1))
	_, err = h.sched.Submit(context.Background(), userID, chatID)
	require.ErrorIs(t, err, types.ErrAlreadyRunning)

	q, err := h.queue.Get(userID)
	require.NoError(t, err)
	require.Equal(t, types.StatusWaiting, q.Status)

	close(h.merger.gate)
	waitDone(t, run)
	require.Equal(t, StateDone, run.State())

	// The new queue outlives the old run.
	require.Equal(t, 2, h.queue.CurrentSize(userID))
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	h.merger.gate = make(chan struct{})
	h.enqueue(t, userID, types.MergeVideo, threeVideos()...)

	require.False(t, h.sched.Cancel(userID))

	run, err := h.sched.Submit(context.Background(), userID, chatID)
	require.NoError(t, err)
	waitEntered(t, h.merger)

	require.True(t, h.sched.Cancel(userID))
	waitDone(t, run)
	waitForget(t, h.sched, userID)

	require.Equal(t, StateFailed, run.State())
	require.ErrorIs(t, run.Err(), types.ErrCancelled)
	h.assertCleanedUp(t, userID)
	require.Equal(t, 1, h.gateway.count("edit", messages.RunCancelled()))
	require.Equal(t, 0, h.gateway.count("delete", ""))
}

func TestDownloadPolicy(t *testing.T) {
	t.Run("lenient skips a failed item", func(t *testing.T) {
		h := newHarness(t)
		h.gateway.failDownload["src-part2.mp4"] = errors.New("file is too big")
		h.enqueue(t, userID, types.MergeVideo, threeVideos()...)

		run, err := h.sched.Submit(context.Background(), userID, chatID)
		require.NoError(t, err)
		waitDone(t, run)

		require.Equal(t, StateDone, run.State())
		require.Len(t, h.merger.calls[0], 2)
		require.Equal(t, "03_part3.mp4", filepath.Base(h.merger.calls[0][1]))
	})

	t.Run("lenient aborts below two files", func(t *testing.T) {
		h := newHarness(t)
		h.gateway.failDownload["src-part1.mp4"] = errors.New("boom")
		h.gateway.failDownload["src-part3.mp4"] = errors.New("boom")
		h.enqueue(t, userID, types.MergeVideo, threeVideos()...)

		run, err := h.sched.Submit(context.Background(), userID, chatID)
		require.NoError(t, err)
		waitDone(t, run)
		waitForget(t, h.sched, userID)

		require.ErrorIs(t, run.Err(), types.ErrMergeAborted)
		require.Equal(t, 0, h.merger.callCount())
		h.assertCleanedUp(t, userID)
	})

	t.Run("strict fails on first error", func(t *testing.T) {
		h := newHarness(t, func(cfg *Config, _ *harness) { cfg.StrictDownloads = true })
		h.gateway.failDownload["src-part2.mp4"] = errors.New("file is too big")
		h.enqueue(t, userID, types.MergeVideo, threeVideos()...)

		run, err := h.sched.Submit(context.Background(), userID, chatID)
		require.NoError(t, err)
		waitDone(t, run)
		waitForget(t, h.sched, userID)

		require.ErrorIs(t, run.Err(), types.ErrDownloadFailed)
		require.Equal(t, 0, h.merger.callCount())
		h.assertCleanedUp(t, userID)
	})

	t.Run("strict timeout", func(t *testing.T) {
		h := newHarness(t, func(cfg *Config, _ *harness) {
			cfg.StrictDownloads = true
			cfg.DownloadTimeout = 50 * time.Millisecond
		})
		h.gateway.stallDownload["src-part1.mp4"] = true
		h.enqueue(t, userID, types.MergeVideo, threeVideos()...)

		run, err := h.sched.Submit(context.Background(), userID, chatID)
		require.NoError(t, err)
		waitDone(t, run)

		require.ErrorIs(t, run.Err(), types.ErrDownloadTimeout)
	})

	t.Run("track mode needs its video", func(t *testing.T) {
		h := newHarness(t)
		h.gateway.failDownload["src-movie.mkv"] = errors.New("boom")
		h.enqueue(t, userID, types.MergeAudio,
			videoEntry("movie.mkv", mb),
			types.JobEntry{SourceRef: "src-dub1", DisplayName: "dub1.m4a", Kind: types.KindAudio},
			types.JobEntry{SourceRef: "src-dub2", DisplayName: "dub2.m4a", Kind: types.KindAudio},
		)

		run, err := h.sched.Submit(context.Background(), userID, chatID)
		require.NoError(t, err)
		waitDone(t, run)

		require.ErrorIs(t, run.Err(), types.ErrDownloadFailed)
		require.Equal(t, 0, h.merger.callCount())
	})
}

func TestRun_TrackModeOutputsMatroska(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, userID, types.MergeSubtitle,
		videoEntry("movie.mp4", mb),
		types.JobEntry{SourceRef: "src-en", DisplayName: "en.srt", Kind: types.KindSubtitle},
	)

	run, err := h.sched.Submit(context.Background(), userID, chatID)
	require.NoError(t, err)
	waitDone(t, run)

	require.NoError(t, run.Err())
	require.Equal(t, []types.MergeMode{types.MergeSubtitle}, h.merger.modes)
	require.Equal(t, "movie_merged.mkv", h.gateway.uploads[0].FileName)
}

func TestRun_OversizedOutput(t *testing.T) {
	t.Run("archived", func(t *testing.T) {
		h := newHarness(t, func(cfg *Config, h *harness) {
			cfg.UploadLimit = 8
			h.archiver = &fakeArchiver{}
		})
		h.enqueue(t, userID, types.MergeVideo, threeVideos()...)

		run, err := h.sched.Submit(context.Background(), userID, chatID)
		require.NoError(t, err)
		waitDone(t, run)

		require.NoError(t, run.Err())
		require.Empty(t, h.gateway.uploads)
		require.Len(t, h.archiver.keys, 1)
		require.Equal(t, fmt.Sprintf("%d/%s/part1_merged.mp4", userID, run.ID), h.archiver.keys[0])
		require.Greater(t, h.archiver.size, int64(8))
		require.True(t, h.gateway.sentContaining("files.example.test"))
	})

	t.Run("no archive configured", func(t *testing.T) {
		h := newHarness(t, func(cfg *Config, _ *harness) { cfg.UploadLimit = 8 })
		h.enqueue(t, userID, types.MergeVideo, threeVideos()...)

		run, err := h.sched.Submit(context.Background(), userID, chatID)
		require.NoError(t, err)
		waitDone(t, run)
		waitForget(t, h.sched, userID)

		require.ErrorIs(t, run.Err(), types.ErrUploadFailed)
		h.assertCleanedUp(t, userID)
	})
}

func TestRun_UploadFailure(t *testing.T) {
	h := newHarness(t)
	h.gateway.failUpload = errors.New("Request Entity Too Large")
	h.enqueue(t, userID, types.MergeVideo, threeVideos()...)

	run, err := h.sched.Submit(context.Background(), userID, chatID)
	require.NoError(t, err)
	waitDone(t, run)

	require.ErrorIs(t, run.Err(), types.ErrUploadFailed)
	require.Equal(t, 1, h.gateway.count("edit", messages.Error(run.Err())))
}

func TestRun_StatusEditFailuresDoNotAbort(t *testing.T) {
	h := newHarness(t)
	h.gateway.failEdits = true
	h.enqueue(t, userID, types.MergeVideo, threeVideos()...)

	run, err := h.sched.Submit(context.Background(), userID, chatID)
	require.NoError(t, err)
	waitDone(t, run)

	require.Equal(t, StateDone, run.State())
	require.Len(t, h.gateway.uploads, 1)
	require.Equal(t, 1, h.gateway.count("delete", ""))
}

func TestQueuePositions(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *harness) { cfg.Workers = 1 })
	h.merger.gate = make(chan struct{})

	const other = userID + 1
	h.enqueue(t, userID, types.MergeVideo, threeVideos()...)
	h.enqueue(t, other, types.MergeVideo, videoEntry("x.webm", 1), videoEntry("y.webm", 1))

	first, err := h.sched.Submit(context.Background(), userID, chatID)
	require.NoError(t, err)
	require.Equal(t, 0, first.Position())
	waitEntered(t, h.merger)

	second, err := h.sched.Submit(context.Background(), other, chatID+1)
	require.NoError(t, err)
	require.Equal(t, 1, second.Position())
	require.Equal(t, StateQueued, second.State())
	require.True(t, h.gateway.sentContaining("Waiting in line:</b> 1"))

	runs := h.sched.ActiveRuns()
	require.Len(t, runs, 2)
	require.Equal(t, userID, runs[0].UserID)
	require.Equal(t, 3, runs[0].Files)

	close(h.merger.gate)
	waitDone(t, first)
	waitDone(t, second)
	require.NoError(t, first.Err())
	require.NoError(t, second.Err())
	require.Equal(t, 0, second.Position())
}

func TestStop_KeepsQueueOfWaitingRun(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *harness) { cfg.Workers = 1 })
	h.merger.gate = make(chan struct{})

	const other = userID + 1
	h.enqueue(t, userID, types.MergeVideo, threeVideos()...)
	h.enqueue(t, other, types.MergeVideo, videoEntry("x.mkv", 1), videoEntry("y.mkv", 1))

	first, err := h.sched.Submit(context.Background(), userID, chatID)
	require.NoError(t, err)
	waitEntered(t, h.merger)

	second, err := h.sched.Submit(context.Background(), other, chatID+1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.sched.taskQueue) == 1 }, 5*time.Second, 10*time.Millisecond)

	h.sched.Stop()

	waitDone(t, first)
	require.ErrorIs(t, first.Err(), types.ErrCancelled)
	h.assertCleanedUp(t, userID)

	waitDone(t, second)
	require.ErrorIs(t, second.Err(), types.ErrCancelled)
	require.Equal(t, 1, h.gateway.count("edit", messages.RunInterrupted()))

	q, err := h.queue.Get(other)
	require.NoError(t, err)
	require.Equal(t, types.StatusWaiting, q.Status)
	require.Len(t, q.Items, 2)
	require.Nil(t, h.sched.Active(other))
}

func TestSubmit_RecoversQueueLeftProcessing(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, userID, types.MergeVideo, videoEntry("a.mp4", 1), videoEntry("b.mp4", 1))

	// a crash between Acquire and Finish leaves the stored queue like this
	_, err := h.queue.Acquire(userID, 2)
	require.NoError(t, err)
	_, err = h.queue.Enqueue(userID, videoEntry("c.mp4", 1), types.MergeVideo)
	require.ErrorIs(t, err, types.ErrAlreadyRunning)

	run, err := h.sched.Submit(context.Background(), userID, chatID)
	require.NoError(t, err)
	waitDone(t, run)
	require.NoError(t, run.Err())
	require.Equal(t, 1, h.merger.callCount())

	waitForget(t, h.sched, userID)
	h.assertCleanedUp(t, userID)
}

func TestRun_UsersRunInParallel(t *testing.T) {
	h := newHarness(t)
	h.merger.gate = make(chan struct{})

	const other = userID + 1
	h.enqueue(t, userID, types.MergeVideo, threeVideos()...)
	h.enqueue(t, other, types.MergeVideo, videoEntry("x.mp4", 1), videoEntry("y.mp4", 1))

	first, err := h.sched.Submit(context.Background(), userID, chatID)
	require.NoError(t, err)
	second, err := h.sched.Submit(context.Background(), other, chatID+1)
	require.NoError(t, err)

	// both merges are inside the merger before either is let go
	waitEntered(t, h.merger)
	waitEntered(t, h.merger)
	require.Equal(t, 0, first.Position())
	require.Equal(t, 0, second.Position())
	require.Equal(t, StateMerging, first.State())
	require.Equal(t, StateMerging, second.State())
	require.Equal(t, 2, h.merger.callCount())

	close(h.merger.gate)
	waitDone(t, first)
	waitDone(t, second)
	require.NoError(t, first.Err())
	require.NoError(t, second.Err())

	waitForget(t, h.sched, userID)
	waitForget(t, h.sched, other)
	h.assertCleanedUp(t, userID)
	h.assertCleanedUp(t, other)
	require.Len(t, h.gateway.uploads, 2)
}
