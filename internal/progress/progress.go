package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const barWidth = 10

// RenderProgress formats a transfer status line. Output depends only on the
// arguments.
func RenderProgress(current, total int64, elapsedSeconds float64) string {
	if total <= 0 {
		return "⏳ Starting…"
	}
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}

	ratio := float64(current) / float64(total)
	filled := int(ratio * barWidth)
	bar := strings.Repeat("●", filled) + strings.Repeat("○", barWidth-filled)

	speed, eta := "calculating", "calculating"
	if elapsedSeconds > 0 {
		bps := float64(current) / elapsedSeconds
		speed = humanize.Bytes(uint64(bps)) + "/s"
		if bps > 0 {
			eta = FormatDuration(time.Duration(float64(total-current) / bps * float64(time.Second)))
		}
	}

	return fmt.Sprintf("[%s] %.1f%%\n%s of %s\nSpeed: %s\nETA: %s",
		bar, ratio*100,
		humanize.Bytes(uint64(current)), humanize.Bytes(uint64(total)),
		speed, eta)
}

func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	parts := make([]string, 0, 3)
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}
