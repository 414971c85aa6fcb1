package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// desktopBackend replaces one freedesktop notification in place so the
// overlay never stacks.
type desktopBackend struct {
	appName string

	mu sync.Mutex
	id uint32
}

func (d *desktopBackend) notify(ctx context.Context, timeoutMS int, _ string, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	appName := strings.TrimSpace(d.appName)
	if appName == "" {
		appName = "liftnote"
	}
	out, err := busctl(ctx, "Notify", "susssasa{sv}i",
		appName,
		strconv.FormatUint(uint64(d.id), 10),
		"",
		text,
		"",
		"0", // actions
		"0", // hints
		strconv.Itoa(timeoutMS),
	)
	if err != nil {
		return err
	}
	id, err := parseNotificationID(out)
	if err != nil {
		return err
	}
	d.id = id
	return nil
}

func (d *desktopBackend) dismiss(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.id == 0 {
		return nil
	}
	id := d.id
	d.id = 0
	_, err := busctl(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10))
	return err
}

// busctl calls one org.freedesktop.Notifications method on the user bus.
func busctl(ctx context.Context, method string, signature string, args ...string) (string, error) {
	argv := append([]string{
		"--user",
		"call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		method,
		signature,
	}, args...)

	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", fmt.Errorf("busctl %s failed: %w", method, err)
		}
		return "", fmt.Errorf("busctl %s failed: %w (%s)", method, err, trimmed)
	}
	return trimmed, nil
}

// parseNotificationID reads a busctl reply of the form "u 42".
func parseNotificationID(reply string) (uint32, error) {
	fields := strings.Fields(reply)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", reply)
	}
	value, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", fields[1], err)
	}
	return uint32(value), nil
}
