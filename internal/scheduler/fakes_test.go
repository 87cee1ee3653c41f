package scheduler

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

type gatewayOp struct {
	kind string
	ref  types.MessageRef
	text string
}

type fakeGateway struct {
	mu      sync.Mutex
	nextID  int
	ops     []gatewayOp
	uploads []types.Upload

	failDownload  map[string]error
	stallDownload map[string]bool
	failEdits     bool
	failUpload    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		failDownload:  map[string]error{},
		stallDownload: map[string]bool{},
	}
}

func (g *fakeGateway) SendText(ctx context.Context, chatID int64, text string, buttons [][]types.Button) (types.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	ref := types.MessageRef{ChatID: chatID, MessageID: g.nextID}
	g.ops = append(g.ops, gatewayOp{kind: "send", ref: ref, text: text})
	return ref, nil
}

func (g *fakeGateway) EditText(ctx context.Context, ref types.MessageRef, text string, buttons [][]types.Button) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failEdits {
		return errors.New("message to edit not found")
	}
	g.ops = append(g.ops, gatewayOp{kind: "edit", ref: ref, text: text})
	return nil
}

func (g *fakeGateway) DeleteMessage(ctx context.Context, ref types.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ops = append(g.ops, gatewayOp{kind: "delete", ref: ref})
	return nil
}

func (g *fakeGateway) DownloadFile(ctx context.Context, sourceRef string, destPath string) error {
	g.mu.Lock()
	err := g.failDownload[sourceRef]
	stall := g.stallDownload[sourceRef]
	g.mu.Unlock()

	if stall {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("payload:"+sourceRef+"\n"), 0o644)
}

func (g *fakeGateway) UploadFile(ctx context.Context, upload types.Upload, progress types.ProgressFunc) error {
	f, err := os.Open(upload.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	total := info.Size()
	progress(0, total)
	if _, err := io.Copy(io.Discard, f); err != nil {
		return err
	}
	progress(total/2, total)
	progress(total, total)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failUpload != nil {
		return g.failUpload
	}
	g.uploads = append(g.uploads, upload)
	g.ops = append(g.ops, gatewayOp{kind: "upload", text: upload.FileName})
	return nil
}

func (g *fakeGateway) opsFor(ref types.MessageRef) []gatewayOp {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayOp
	for _, op := range g.ops {
		if op.ref == ref && op.kind != "send" {
			out = append(out, op)
		}
	}
	return out
}

func (g *fakeGateway) count(kind, text string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, op := range g.ops {
		if op.kind == kind && (text == "" || op.text == text) {
			n++
		}
	}
	return n
}

func (g *fakeGateway) sentContaining(sub string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, op := range g.ops {
		if op.kind == "send" && strings.Contains(op.text, sub) {
			return true
		}
	}
	return false
}

type fakeMerger struct {
	mu      sync.Mutex
	calls   [][]string
	modes   []types.MergeMode
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func newFakeMerger() *fakeMerger {
	return &fakeMerger{entered: make(chan struct{}, 16)}
}

func (m *fakeMerger) Merge(ctx context.Context, mode types.MergeMode, paths []string, dest string) error {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), paths...))
	m.modes = append(m.modes, mode)
	gate, err := m.gate, m.err
	m.mu.Unlock()

	m.entered <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	var merged []byte
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		merged = append(merged, data...)
	}
	return os.WriteFile(dest, merged, 0o644)
}

func (m *fakeMerger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type fakeArchiver struct {
	mu   sync.Mutex
	keys []string
	size int64
}

func (a *fakeArchiver) Store(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	a.size = n
	return "https://files.example.test/" + key, nil
}
