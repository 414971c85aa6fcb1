package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/rbright/liftnote/internal/capture"
)

const (
	sampleRate     = 16000
	channels       = 1
	bytesPerSample = 2
	fragmentBytes  = 640 // 20ms @ 16kHz mono s16
)

// DeviceConfig selects the Pulse source and the directory for finished WAV files.
type DeviceConfig struct {
	Input    string
	Fallback string
	Dir      string
}

// PulseDevice implements capture.Device over a PulseAudio record stream.
type PulseDevice struct {
	cfg    DeviceConfig
	logger *slog.Logger

	// seams for tests
	list  func(context.Context) ([]Device, error)
	start func(context.Context, Device) (*Recording, error)

	mu       sync.Mutex
	selected *Device
}

var (
	_ capture.Device = (*PulseDevice)(nil)
	_ capture.Handle = (*Recording)(nil)
)

// NewPulseDevice constructs a device bound to cfg.
func NewPulseDevice(cfg DeviceConfig, logger *slog.Logger) *PulseDevice {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &PulseDevice{cfg: cfg, logger: logger, list: ListDevices}
	d.start = d.startPulse
	return d
}

// RequestPermission resolves the configured source. A muted source is
// reported as capture.ErrPermissionDenied.
func (d *PulseDevice) RequestPermission(ctx context.Context) error {
	devices, err := d.list(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", capture.ErrDeviceAcquisition, err)
	}
	selection, err := selectDeviceFromList(devices, d.cfg.Input, d.cfg.Fallback)
	if err != nil {
		return err
	}
	if selection.Warning != "" {
		d.logger.Warn(selection.Warning)
	}

	d.mu.Lock()
	d.selected = &selection.Device
	d.mu.Unlock()
	return nil
}

// Open starts recording from the source chosen by RequestPermission.
func (d *PulseDevice) Open(ctx context.Context) (capture.Handle, error) {
	d.mu.Lock()
	selected := d.selected
	d.mu.Unlock()
	if selected == nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrDeviceAcquisition, errNoSelection)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recording, err := d.start(ctx, *selected)
	if err != nil {
		return nil, err
	}
	recording.dir = d.cfg.Dir
	d.logger.Debug("pulse recording opened", "device", selected.String())
	return recording, nil
}

func (d *PulseDevice) startPulse(ctx context.Context, selected Device) (*Recording, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	recording := newRecording(selected)
	recording.client = client

	writer := pulse.NewWriter(writerFunc(recording.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(fragmentBytes),
		pulse.RecordMediaName("liftnote workout note"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		stream.Close()
		client.Close()
		return nil, err
	}

	recording.stream = stream
	stream.Start()
	return recording, nil
}

// Recording is one live Pulse record stream. It implements capture.Handle.
type Recording struct {
	device Device
	dir    string

	client *pulse.Client
	stream *pulse.RecordStream

	stopCh chan struct{}

	mu      sync.Mutex
	pcm     []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

func newRecording(device Device) *Recording {
	return &Recording{device: device, stopCh: make(chan struct{})}
}

// Device returns the recording source.
func (r *Recording) Device() Device {
	return r.device
}

// BytesCaptured reports total PCM bytes accepted from Pulse.
func (r *Recording) BytesCaptured() int64 {
	return r.bytes.Load()
}

// Finalize stops the stream and writes the captured PCM as a WAV file.
func (r *Recording) Finalize(ctx context.Context) (capture.Artifact, error) {
	pcm := r.stop()
	if len(pcm) == 0 {
		return capture.Artifact{}, capture.ErrEmptyCaptureData
	}
	if err := ctx.Err(); err != nil {
		return capture.Artifact{}, fmt.Errorf("finalize recording: %w", err)
	}

	dir := r.dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), applicationName)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return capture.Artifact{}, fmt.Errorf("create capture dir: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(dir, id+".wav")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return capture.Artifact{}, fmt.Errorf("open capture file %q: %w", path, err)
	}
	if err := writePCM16WAV(file, pcm, sampleRate, channels); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return capture.Artifact{}, fmt.Errorf("write capture file %q: %w", path, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return capture.Artifact{}, fmt.Errorf("close capture file %q: %w", path, err)
	}

	return capture.Artifact{
		ID:       id,
		Path:     path,
		Duration: pcmDuration(len(pcm)),
		Bytes:    int64(wavHeaderBytes + len(pcm)),
	}, nil
}

// Release stops the stream and drops everything captured.
func (r *Recording) Release() error {
	_ = r.stop()
	return nil
}

// stop halts the stream exactly once and returns the captured PCM.
func (r *Recording) stop() []byte {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.stopCh)
	r.mu.Unlock()

	if r.stream != nil {
		r.stream.Stop()
		r.stream.Close()
	}
	if r.client != nil {
		r.client.Close()
	}

	r.inflight.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	pcm := r.pcm
	r.pcm = nil
	return pcm
}

// onPCM receives raw Pulse frames.
func (r *Recording) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-r.stopCh:
		return 0, io.EOF
	default:
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as stopped to avoid Add/Wait races.
	r.inflight.Add(1)
	r.pcm = append(r.pcm, buffer...)
	r.mu.Unlock()
	defer r.inflight.Done()

	r.bytes.Add(int64(len(buffer)))
	return len(buffer), nil
}

func pcmDuration(n int) time.Duration {
	frames := n / (channels * bytesPerSample)
	return time.Duration(frames) * time.Second / sampleRate
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
