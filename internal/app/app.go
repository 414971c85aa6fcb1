// Package app dispatches parsed commands to the daemon, the journal, and
// the diagnostics.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/liftnote/internal/audio"
	"github.com/rbright/liftnote/internal/cli"
	"github.com/rbright/liftnote/internal/config"
	"github.com/rbright/liftnote/internal/doctor"
	"github.com/rbright/liftnote/internal/ipc"
	"github.com/rbright/liftnote/internal/journal"
	"github.com/rbright/liftnote/internal/logging"
	"github.com/rbright/liftnote/internal/transcribe"
	"github.com/rbright/liftnote/internal/version"
)

const forwardTimeout = 220 * time.Millisecond

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Now defaults to time.Now; it picks the journal day for new entries.
	Now func() time.Time
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("liftnote"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("liftnote"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New(parsed.Debug)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}
	if r.Now == nil {
		r.Now = time.Now
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		if cfgLoaded.Exists {
			fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		}
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	cfg := cfgLoaded.Config
	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandPress:
		return r.forwardOrFail(ctx, ipc.CommandPress)
	case cli.CommandRelease:
		return r.forwardOrFail(ctx, ipc.CommandRelease)
	case cli.CommandListen:
		return r.commandListen(ctx, cfg, logger)
	case cli.CommandEntries:
		return r.commandEntries(ctx, cfg, parsed.Args)
	case cli.CommandCombine:
		return r.commandCombine(ctx, cfg, logger, parsed.Args)
	case cli.CommandReorder:
		return r.commandReorder(ctx, cfg, parsed.Args)
	case cli.CommandDelete:
		return r.commandDelete(ctx, cfg, parsed.Args[0])
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	return 0
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "stopped")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	fmt.Fprintln(r.Stdout, "stopped")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no liftnote daemon running (start one with `liftnote listen`)\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.IsNoDaemon(err) {
		return ipc.Response{}, false, nil
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func openJournal(ctx context.Context, cfg config.Config) (*journal.SQLiteStore, error) {
	path := strings.TrimSpace(cfg.Journal.Path)
	if path == "" {
		var err error
		path, err = journal.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return journal.Open(ctx, path)
}

func (r Runner) commandEntries(ctx context.Context, cfg config.Config, args []string) int {
	day := journal.Today(r.Now())
	if len(args) == 1 {
		day = args[0]
	}

	store, err := openJournal(ctx, cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	entries, err := store.ListDay(ctx, day)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintf(r.Stdout, "no entries for %s\n", day)
		return 0
	}

	fmt.Fprintln(r.Stdout, day)
	for i, entry := range entries {
		writeEntry(r.Stdout, i+1, entry)
	}
	return 0
}

func writeEntry(w io.Writer, n int, entry journal.Entry) {
	fmt.Fprintf(w, "%2d. %s\n", n, entry.ID)
	for _, line := range strings.Split(entry.Body.PlainText(), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
	if summary := strings.TrimSpace(entry.Summary); summary != "" {
		fmt.Fprintf(w, "    (%s)\n", summary)
	}
}

func (r Runner) commandCombine(ctx context.Context, cfg config.Config, logger *slog.Logger, ids []string) int {
	store, err := openJournal(ctx, cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	texts := make([]string, 0, len(ids))
	var day string
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		if seen[id] {
			fmt.Fprintf(r.Stderr, "error: %v: duplicate id %q\n", journal.ErrInvalidMerge, id)
			return 1
		}
		seen[id] = true
		entry, err := store.Get(ctx, id)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if i == 0 {
			day = entry.Day
		} else if entry.Day != day {
			fmt.Fprintf(r.Stderr, "error: %v: %s is on %s, not %s\n", journal.ErrInvalidMerge, id, entry.Day, day)
			return 1
		}
		texts = append(texts, entry.Body.PlainText())
	}

	client := transcribe.New(cfg.Transcription.BaseURL, transcribe.WithTimeout(cfg.Transcription.Timeout()))
	combined, err := client.Combine(ctx, texts)
	if err != nil {
		logger.Warn("combine request failed", "entries", len(ids), "error", err.Error())
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	merged, err := store.Merge(ctx, ids, journal.LegacyText{Text: combined})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	logger.Info("entries combined", "id", merged.ID, "day", merged.Day, "sources", len(ids))
	writeEntry(r.Stdout, merged.Position+1, merged)
	return 0
}

func (r Runner) commandReorder(ctx context.Context, cfg config.Config, args []string) int {
	store, err := openJournal(ctx, cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := store.Reorder(ctx, args[0], args[1:]); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "reordered %d entries on %s\n", len(args)-1, args[0])
	return 0
}

func (r Runner) commandDelete(ctx context.Context, cfg config.Config, id string) int {
	store, err := openJournal(ctx, cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := store.Delete(ctx, id); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "deleted %s\n", id)
	return 0
}
