package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrNoDaemon marks a dial failure where nothing owns the socket: the path is
// missing or the listener is gone.
var ErrNoDaemon = errors.New("no daemon listening")

// Send performs one request/response exchange bounded by timeout. Dial
// failures that mean no daemon is running wrap ErrNoDaemon.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		if IsNoDaemon(err) {
			return Response{}, fmt.Errorf("%w: %w", ErrNoDaemon, err)
		}
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Probe reports whether a responsive daemon owns path.
func Probe(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	_, err := Send(ctx, path, Request{Command: CommandStatus}, timeout)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoDaemon):
		return false, nil
	default:
		return false, fmt.Errorf("probe socket: %w", err)
	}
}

// IsNoDaemon reports dial errors for a missing socket file or a socket with
// no listener behind it.
func IsNoDaemon(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoDaemon) || errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(err.Error(), "no such file or directory")
}
