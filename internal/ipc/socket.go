package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

var ErrAlreadyRunning = errors.New("liftnote daemon already running")

// RuntimeSocketPath returns $XDG_RUNTIME_DIR/liftnote.sock.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, "liftnote.sock"), nil
}

// AcquireOptions tunes socket takeover.
type AcquireOptions struct {
	// ProbeTimeout bounds the status request sent to an existing owner.
	ProbeTimeout time.Duration
	// Retries is the number of extra listen attempts after a stale socket
	// is unlinked.
	Retries int
	Logger  *slog.Logger
}

// Socket is an owned daemon listener. Close unlinks the socket file.
type Socket struct {
	net.Listener
	Path string

	once     sync.Once
	closeErr error
}

func (s *Socket) Close() error {
	s.once.Do(func() {
		s.closeErr = s.Listener.Close()
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) && s.closeErr == nil {
			s.closeErr = fmt.Errorf("remove socket %s: %w", s.Path, err)
		}
	})
	return s.closeErr
}

// Acquire makes this process the single socket owner. A responsive owner
// yields ErrAlreadyRunning. A socket nobody answers on is unlinked and
// listening is retried; a socket whose probe is inconclusive is left alone.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (*Socket, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return &Socket{Listener: listener, Path: path}, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}
		if attempt >= opts.Retries {
			return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, opts.Retries)
		}

		logger.Warn("removing stale socket", "path", path, "attempt", attempt+1)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
		}
	}
}
