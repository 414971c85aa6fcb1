// Package audio records workout notes from PulseAudio input sources.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/rbright/liftnote/internal/capture"
)

const applicationName = "liftnote"

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// String formats device metadata for logs and the devices command.
func (d Device) String() string {
	description := strings.TrimSpace(d.Description)
	id := strings.TrimSpace(d.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}

// Selection is the resolved capture source plus optional fallback warning context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

func newClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(applicationName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListDevices returns Pulse input sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// SelectDevice resolves input/fallback preferences against live devices.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("%w: %w", capture.ErrDeviceAcquisition, err)
	}
	return selectDeviceFromList(devices, input, fallback)
}

// selectDeviceFromList applies selection policy to a pre-fetched device list.
// A source that exists but is muted is a permission refusal; anything else
// that leaves no usable source is an acquisition failure.
func selectDeviceFromList(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, fmt.Errorf("%w: no audio input devices found", capture.ErrDeviceAcquisition)
	}

	var (
		defaultDevice *Device
		byInput       *Device
		byFallback    *Device
	)

	input = strings.TrimSpace(strings.ToLower(input))
	fallback = strings.TrimSpace(strings.ToLower(fallback))

	for i := range devices {
		dev := &devices[i]
		if dev.Default {
			defaultDevice = dev
		}
		if byInput == nil && !isDefault(input) && deviceMatches(*dev, input) {
			byInput = dev
		}
		if byFallback == nil && !isDefault(fallback) && deviceMatches(*dev, fallback) {
			byFallback = dev
		}
	}

	var primary *Device
	switch {
	case isDefault(input) && defaultDevice == nil:
		return Selection{}, fmt.Errorf("%w: default audio source is unavailable", capture.ErrDeviceAcquisition)
	case isDefault(input):
		primary = defaultDevice
	case byInput == nil:
		return Selection{}, fmt.Errorf("%w: audio.input %q did not match any device", capture.ErrDeviceAcquisition, input)
	default:
		primary = byInput
	}
	if primary.Available && !primary.Muted {
		return Selection{Device: *primary}, nil
	}

	primaryReason := "unavailable"
	if primary.Muted {
		primaryReason = "muted"
	}

	alternate := byFallback
	if isDefault(fallback) {
		alternate = defaultDevice
	}
	if alternate == nil {
		return Selection{}, fmt.Errorf("%w: primary input %q is %s and fallback %q not found",
			classFor(*primary), primary.ID, primaryReason, fallback)
	}
	if !alternate.Available {
		return Selection{}, fmt.Errorf("%w: audio fallback device %q is not available", capture.ErrDeviceAcquisition, alternate.ID)
	}
	if alternate.Muted {
		return Selection{}, fmt.Errorf("%w: audio fallback device %q is muted", capture.ErrPermissionDenied, alternate.ID)
	}

	return Selection{
		Device:   *alternate,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, primaryReason, alternate.ID),
		Fallback: primary.ID != alternate.ID,
	}, nil
}

func isDefault(term string) bool {
	return term == "" || term == "default"
}

func classFor(device Device) error {
	if device.Muted {
		return capture.ErrPermissionDenied
	}
	return capture.ErrDeviceAcquisition
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse source port availability to a simple boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}

var errNoSelection = errors.New("no audio source selected")
