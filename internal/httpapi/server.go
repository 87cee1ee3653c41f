package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BatmanBruc/bat-bot-merger/internal/scheduler"
)

type RunLister interface {
	ActiveRuns() []scheduler.RunInfo
}

type Handler struct {
	runs    RunLister
	started time.Time
}

func NewHandler(runs RunLister) *Handler {
	return &Handler{runs: runs, started: time.Now()}
}

func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.GET("/healthz", h.Health)
	r.GET("/runs", h.Runs)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": time.Since(h.started).Round(time.Second).String()})
}

func (h *Handler) Runs(c *gin.Context) {
	runs := h.runs.ActiveRuns()
	c.JSON(http.StatusOK, gin.H{"count": len(runs), "runs": runs})
}

// Serve runs the ops server until ctx is done.
func Serve(ctx context.Context, addr string, h *Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
