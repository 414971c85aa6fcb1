// Package hypr wraps the hyprctl calls the indicator overlay needs.
package hypr

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultColor is the notification accent used when none is given.
const DefaultColor = "rgb(89b4fa)"

// Available reports the resolved hyprctl path, or an error when it is not on PATH.
func Available() (string, error) {
	path, err := exec.LookPath("hyprctl")
	if err != nil {
		return "", fmt.Errorf("hyprctl not found in PATH: %w", err)
	}
	return path, nil
}

// Notify sends a Hyprland notification payload.
func Notify(ctx context.Context, icon int, timeoutMS int, color string, text string) error {
	if strings.TrimSpace(color) == "" {
		color = DefaultColor
	}
	return runHyprctl(
		ctx,
		"--quiet",
		"dispatch",
		"notify",
		strconv.Itoa(icon),
		strconv.Itoa(timeoutMS),
		color,
		text,
	)
}

// DismissNotify dismisses active Hyprland notifications.
func DismissNotify(ctx context.Context) error {
	return runHyprctl(ctx, "--quiet", "dispatch", "dismissnotify")
}

func runHyprctl(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "hyprctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return fmt.Errorf("hyprctl %v failed: %w", args, err)
		}
		return fmt.Errorf("hyprctl %v failed: %w (%s)", args, err, trimmed)
	}
	return nil
}
