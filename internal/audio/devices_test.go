package audio

import (
	"context"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"

	"github.com/rbright/liftnote/internal/capture"
)

func TestSelectDeviceFromListPrimaryDefault(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "default", "default")
	require.NoError(t, err)
	require.Equal(t, "elgato", selection.Device.ID)
	require.Empty(t, selection.Warning)
}

func TestSelectDeviceFromListMutedPrimaryUsesFallback(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Muted: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "elgato", "sony")
	require.NoError(t, err)
	require.Equal(t, "sony", selection.Device.ID)
	require.Contains(t, selection.Warning, "muted")
	require.True(t, selection.Fallback)
}

func TestSelectDeviceFromListClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		devices  []Device
		input    string
		fallback string
		want     error
		contains string
	}{
		{
			name:     "no devices",
			want:     capture.ErrDeviceAcquisition,
			contains: "no audio input devices",
		},
		{
			name:     "muted with muted fallback",
			devices:  []Device{{ID: "elgato", Available: true, Muted: true, Default: true}},
			input:    "default",
			fallback: "default",
			want:     capture.ErrPermissionDenied,
			contains: "muted",
		},
		{
			name:     "unknown input",
			devices:  []Device{{ID: "elgato", Available: true, Default: true}},
			input:    "missing",
			fallback: "default",
			want:     capture.ErrDeviceAcquisition,
			contains: "did not match",
		},
		{
			name:     "muted primary and missing fallback",
			devices:  []Device{{ID: "elgato", Available: true, Muted: true, Default: true}},
			input:    "elgato",
			fallback: "sony",
			want:     capture.ErrPermissionDenied,
			contains: "not found",
		},
		{
			name: "unavailable fallback",
			devices: []Device{
				{ID: "elgato", Available: false, Default: true},
				{ID: "sony", Available: false},
			},
			input:    "elgato",
			fallback: "sony",
			want:     capture.ErrDeviceAcquisition,
			contains: "not available",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := selectDeviceFromList(tc.devices, tc.input, tc.fallback)
			require.ErrorIs(t, err, tc.want)
			require.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestDeviceMatchesByIDAndDescription(t *testing.T) {
	dev := Device{ID: "alsa_input.usb-elgato", Description: "Elgato Wave 3 Mono"}
	require.True(t, deviceMatches(dev, "elgato"))
	require.True(t, deviceMatches(dev, "wave 3"))
	require.False(t, deviceMatches(dev, "missing"))
}

func TestDeviceString(t *testing.T) {
	require.Equal(t, "Elgato (alsa_input.wave3)", Device{Description: "Elgato", ID: "alsa_input.wave3"}.String())
	require.Equal(t, "Elgato", Device{Description: "Elgato"}.String())
	require.Equal(t, "alsa_input.wave3", Device{ID: "alsa_input.wave3"}.String())
}

func TestListDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListDevices(context.Background())
	require.Error(t, err)
}

func TestSelectDeviceFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := SelectDevice(context.Background(), "default", "default")
	require.ErrorIs(t, err, capture.ErrDeviceAcquisition)
}

func TestSourceStateString(t *testing.T) {
	require.Equal(t, "running", sourceStateString(0))
	require.Equal(t, "idle", sourceStateString(1))
	require.Equal(t, "suspended", sourceStateString(2))
	require.Equal(t, "unknown(99)", sourceStateString(99))
}

func TestSourceAvailable(t *testing.T) {
	require.False(t, sourceAvailable(nil))
	require.True(t, sourceAvailable(&pulseproto.GetSourceInfoReply{})) // no ports => available

	available := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, available, []sourcePort{{name: "mic", available: 2}})
	require.True(t, sourceAvailable(available))

	notAvailable := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, notAvailable, []sourcePort{{name: "mic", available: 1}})
	require.False(t, sourceAvailable(notAvailable))
}

type sourcePort struct {
	name      string
	available uint32
}

func setSourcePorts(t *testing.T, reply *pulseproto.GetSourceInfoReply, ports []sourcePort) {
	t.Helper()

	sliceType := reflect.TypeOf(reply.Ports)
	sliceValue := reflect.MakeSlice(sliceType, len(ports), len(ports))

	for i, port := range ports {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}

	replyValue := reflect.ValueOf(reply).Elem().FieldByName("Ports")
	replyValue.Set(sliceValue)
}
