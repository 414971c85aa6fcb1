// Package cli parses liftnote command lines.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandListen  Command = "listen"
	CommandPress   Command = "press"
	CommandRelease Command = "release"
	CommandStatus  Command = "status"
	CommandEntries Command = "entries"
	CommandCombine Command = "combine"
	CommandReorder Command = "reorder"
	CommandDelete  Command = "delete"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// arity bounds the positional arguments a command accepts; max < 0 is unbounded.
type arity struct {
	min, max int
	usage    string
}

var validCommands = map[Command]arity{
	CommandListen:  {},
	CommandPress:   {},
	CommandRelease: {},
	CommandStatus:  {},
	CommandEntries: {max: 1, usage: "[DAY]"},
	CommandCombine: {min: 2, max: -1, usage: "ID ID..."},
	CommandReorder: {min: 2, max: -1, usage: "DAY ID..."},
	CommandDelete:  {min: 1, max: 1, usage: "ID"},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	Debug      bool
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}
	commandSet := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
			continue
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
			continue
		case "--debug":
			parsed.Debug = true
			continue
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
			continue
		}

		if strings.HasPrefix(arg, "-") {
			return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
		}
		if commandSet {
			parsed.Args = append(parsed.Args, arg)
			continue
		}

		cmd := Command(arg)
		if _, ok := validCommands[cmd]; !ok {
			return Parsed{}, fmt.Errorf("unknown command: %s", arg)
		}
		parsed.Command = cmd
		parsed.ShowHelp = cmd == CommandHelp
		commandSet = true
	}

	if commandSet {
		if err := checkArity(parsed.Command, parsed.Args); err != nil {
			return Parsed{}, err
		}
	}
	return parsed, nil
}

func checkArity(cmd Command, args []string) error {
	want := validCommands[cmd]
	if len(args) < want.min || (want.max >= 0 && len(args) > want.max) {
		if want.usage == "" {
			return fmt.Errorf("unexpected arguments after command %q", cmd)
		}
		return fmt.Errorf("usage: %s %s", cmd, want.usage)
	}
	return nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--debug] <command> [args]

Commands:
  listen              Run the daemon that owns the microphone and journal
  press               Send a press edge to the daemon (hold to record)
  release             Send a release edge to the daemon
  status              Print current state
  entries [DAY]       List journal entries for DAY (default: today)
  combine ID ID...    Merge entries into one via the transcription service
  reorder DAY ID...   Set the display order of DAY
  delete ID           Delete one entry
  devices             List available input devices
  doctor              Run configuration and environment checks
  version             Print version information
  help                Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/liftnote/config.jsonc)
  --debug         Log debug detail, including discarded captures and failed uploads
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
