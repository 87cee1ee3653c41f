package merger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

type Merger interface {
	Merge(ctx context.Context, mode types.MergeMode, paths []string, dest string) error
}

// ToolError is returned when the external tool cannot be started or exits
// with a failure. It matches types.ErrExternalTool.
type ToolError struct {
	Tool   string
	Err    error
	Output string
}

func (e *ToolError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v, output: %s", e.Tool, e.Err, e.Output)
}

func (e *ToolError) Unwrap() error { return e.Err }

func (e *ToolError) Is(target error) bool { return target == types.ErrExternalTool }

const maxOutputTail = 2048

type FFmpeg struct {
	Binary string
}

func NewFFmpeg(binary string) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{Binary: binary}
}

func (f *FFmpeg) Merge(ctx context.Context, mode types.MergeMode, paths []string, dest string) error {
	if len(paths) < 2 {
		return fmt.Errorf("%w: %d input(s)", types.ErrMergeAborted, len(paths))
	}

	bin, err := exec.LookPath(f.Binary)
	if err != nil {
		return &ToolError{Tool: f.Binary, Err: err}
	}

	var args []string
	switch mode {
	case types.MergeVideo:
		manifest := dest + ".concat.txt"
		if err := WriteConcatManifest(manifest, paths); err != nil {
			return fmt.Errorf("write concat manifest: %w", err)
		}
		defer func() { _ = os.Remove(manifest) }()
		args = ConcatArgs(manifest, dest)
	case types.MergeAudio, types.MergeSubtitle:
		args = MuxArgs(paths, dest)
	default:
		return fmt.Errorf("%w: merge mode %d", types.ErrUnsupportedType, mode)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &ToolError{Tool: filepath.Base(f.Binary), Err: err, Output: tail(output)}
	}

	info, err := os.Stat(dest)
	if err != nil {
		return &ToolError{Tool: filepath.Base(f.Binary), Err: fmt.Errorf("result file was not created: %v", err), Output: tail(output)}
	}
	if info.Size() == 0 {
		_ = os.Remove(dest)
		return &ToolError{Tool: filepath.Base(f.Binary), Err: errors.New("result file is empty"), Output: tail(output)}
	}
	return nil
}

// ConcatArgs joins the files listed in manifest without re-encoding.
func ConcatArgs(manifest, dest string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", manifest,
		"-map", "0", "-c", "copy",
		"-y", dest,
	}
}

// MuxArgs keeps every stream of the first input and adds the tracks of the
// following inputs to it.
func MuxArgs(paths []string, dest string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	for _, p := range paths {
		args = append(args, "-i", p)
	}
	args = append(args, "-map", "0")
	for i := 1; i < len(paths); i++ {
		args = append(args, "-map", strconv.Itoa(i))
	}
	args = append(args, "-c", "copy", "-y", dest)
	return args
}

func WriteConcatManifest(path string, paths []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, p := range paths {
		if _, err := w.WriteString(ConcatLine(p)); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ConcatLine renders one manifest entry. A single quote cannot appear inside
// a quoted string, so it closes the quote, emits an escaped quote and reopens.
func ConcatLine(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "file '" + strings.ReplaceAll(path, "'", `'\''`) + "'\n"
}

// OutputExt picks the container for the merged file.
func OutputExt(mode types.MergeMode, format string) string {
	if mode == types.MergeVideo && format != "" {
		return format
	}
	return "mkv"
}

func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > maxOutputTail {
		s = s[len(s)-maxOutputTail:]
	}
	return s
}
