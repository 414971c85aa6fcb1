package capture

import (
	"context"
	"errors"
	"os"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartCommitsSessionAndStopDelivers(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil, testConfig())
		token := h.press.down()

		require.NoError(t, h.ctrl.Start(context.Background(), token))
		require.Equal(t, PhaseActive, h.ctrl.Phase())

		time.Sleep(2 * time.Second)
		h.press.up()
		require.True(t, h.ctrl.Stop())
		synctest.Wait()

		delivered := h.sink.delivered()
		require.Len(t, delivered, 1)
		require.Equal(t, 2*time.Second, delivered[0].Duration)
		require.False(t, delivered[0].StartedAt.IsZero())
		require.Equal(t, PhaseIdle, h.ctrl.Phase())

		events, stops, _ := h.observer.snapshot()
		require.Equal(t, []string{"started", "stopping", "delivered"}, events)
		require.Equal(t, []StopReason{StopRelease}, stops)
	})
}

func TestStopIsIdempotent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil, testConfig())
		token := h.press.down()
		require.NoError(t, h.ctrl.Start(context.Background(), token))
		time.Sleep(time.Second)

		require.True(t, h.ctrl.Stop())
		require.False(t, h.ctrl.Stop())
		synctest.Wait()
		require.False(t, h.ctrl.Stop())

		require.Len(t, h.sink.delivered(), 1)
		require.Equal(t, PhaseIdle, h.ctrl.Phase())
	})
}

func TestStopWithoutSessionIsNoop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil, testConfig())
		require.False(t, h.ctrl.Stop())
		require.Equal(t, PhaseIdle, h.ctrl.Phase())
		require.Zero(t, h.device.opens.Load())
	})
}

func TestStartRefusesStaleToken(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil, testConfig())
		stale := h.press.down()
		h.press.up()
		h.press.down()

		err := h.ctrl.Start(context.Background(), stale)
		require.ErrorIs(t, err, ErrStaleToken)
		require.Zero(t, h.device.opens.Load())
		require.Equal(t, PhaseIdle, h.ctrl.Phase())
	})
}

func TestStartRefusesReleasedPress(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil, testConfig())
		token := h.press.down()
		h.press.dropRelease()

		require.ErrorIs(t, h.ctrl.Start(context.Background(), token), ErrStaleToken)
		require.Zero(t, h.device.opens.Load())
	})
}

func TestStartRefusesWhileActive(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil, testConfig())
		token := h.press.down()
		require.NoError(t, h.ctrl.Start(context.Background(), token))

		require.ErrorIs(t, h.ctrl.Start(context.Background(), token), ErrAlreadyActive)
		require.Equal(t, int32(1), h.device.opens.Load())
	})
}

func TestStartRefusesWhileAcquisitionInFlight(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		device := &fakeDevice{permissionGate: make(chan struct{})}
		h := newHarness(t, device, testConfig())
		token := h.press.down()

		errCh := make(chan error, 1)
		go func() { errCh <- h.ctrl.Start(context.Background(), token) }()
		synctest.Wait()
		require.Equal(t, PhaseAcquiring, h.ctrl.Phase())

		require.ErrorIs(t, h.ctrl.Start(context.Background(), token), ErrStartInFlight)

		close(device.permissionGate)
		require.NoError(t, <-errCh)
		require.Equal(t, PhaseActive, h.ctrl.Phase())
	})
}

func TestReleaseDuringPermissionAbandonsStart(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		device := &fakeDevice{permissionGate: make(chan struct{})}
		h := newHarness(t, device, testConfig())
		token := h.press.down()

		errCh := make(chan error, 1)
		go func() { errCh <- h.ctrl.Start(context.Background(), token) }()
		synctest.Wait()

		h.press.up()
		require.False(t, h.ctrl.Stop())
		close(device.permissionGate)

		require.ErrorIs(t, <-errCh, ErrStaleToken)
		require.Zero(t, device.opens.Load())
		require.Equal(t, PhaseIdle, h.ctrl.Phase())

		events, _, _ := h.observer.snapshot()
		require.Equal(t, []string{"aborted"}, events)
	})
}

func TestReleaseDuringOpenReleasesHandle(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		device := &fakeDevice{openGate: make(chan struct{})}
		h := newHarness(t, device, testConfig())
		token := h.press.down()

		errCh := make(chan error, 1)
		go func() { errCh <- h.ctrl.Start(context.Background(), token) }()
		synctest.Wait()

		h.press.up()
		close(device.openGate)

		require.ErrorIs(t, <-errCh, ErrStaleToken)
		handle := device.lastHandle()
		require.NotNil(t, handle)
		require.True(t, handle.released.Load())
		require.Nil(t, handle.finalizedAt.Load())
		require.Equal(t, PhaseIdle, h.ctrl.Phase())
		require.Empty(t, h.sink.delivered())
	})
}

func TestPermissionDeniedReturnsToIdle(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		device := &fakeDevice{permissionErr: errors.New("source muted")}
		h := newHarness(t, device, testConfig())
		token := h.press.down()

		err := h.ctrl.Start(context.Background(), token)
		require.ErrorIs(t, err, ErrPermissionDenied)
		require.Contains(t, err.Error(), "source muted")
		require.Equal(t, PhaseIdle, h.ctrl.Phase())
		require.Zero(t, device.opens.Load())
	})
}

func TestOpenFailureIsAcquisitionError(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		device := &fakeDevice{openErr: errors.New("device busy")}
		h := newHarness(t, device, testConfig())
		token := h.press.down()

		err := h.ctrl.Start(context.Background(), token)
		require.ErrorIs(t, err, ErrDeviceAcquisition)
		require.NotErrorIs(t, err, ErrPermissionDenied)
		require.Equal(t, PhaseIdle, h.ctrl.Phase())

		h.press.up()
		next := h.press.down()
		device.openErr = nil
		require.NoError(t, h.ctrl.Start(context.Background(), next))
	})
}

func TestMaxDurationForcesStopAtCap(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil, testConfig())
		token := h.press.down()
		require.NoError(t, h.ctrl.Start(context.Background(), token))
		startedAt := time.Now()

		time.Sleep(90*time.Second - time.Millisecond)
		require.Equal(t, PhaseActive, h.ctrl.Phase())

		time.Sleep(time.Millisecond)
		synctest.Wait()

		handle := h.device.lastHandle()
		finalizedAt := handle.finalizedAt.Load()
		require.NotNil(t, finalizedAt)
		require.Equal(t, 90*time.Second, finalizedAt.Sub(startedAt))

		_, stops, _ := h.observer.snapshot()
		require.Equal(t, []StopReason{StopTimeout}, stops)
		require.Len(t, h.sink.delivered(), 1)

		h.press.up()
		require.False(t, h.ctrl.Stop())
		require.Len(t, h.sink.delivered(), 1)
	})
}

func TestLivenessStopsWhenReleaseIsLost(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil, testConfig())
		token := h.press.down()
		require.NoError(t, h.ctrl.Start(context.Background(), token))

		time.Sleep(time.Second)
		h.press.dropRelease()
		time.Sleep(100 * time.Millisecond)
		synctest.Wait()

		require.Equal(t, PhaseIdle, h.ctrl.Phase())
		_, stops, _ := h.observer.snapshot()
		require.Equal(t, []StopReason{StopLiveness}, stops)
		require.Len(t, h.sink.delivered(), 1)
	})
}

func TestShortCaptureIsDiscarded(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil, testConfig())
		token := h.press.down()
		require.NoError(t, h.ctrl.Start(context.Background(), token))

		time.Sleep(200 * time.Millisecond)
		h.press.up()
		require.True(t, h.ctrl.Stop())
		synctest.Wait()

		require.Empty(t, h.sink.delivered())
		_, _, discards := h.observer.snapshot()
		require.Equal(t, []DiscardReason{DiscardTooShort}, discards)

		handle := h.device.lastHandle()
		_, err := os.Stat(handle.dir + "/capture.wav")
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestEmptyCaptureDataIsSilent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		device := &fakeDevice{finalizeErr: ErrEmptyCaptureData}
		h := newHarness(t, device, testConfig())
		token := h.press.down()
		require.NoError(t, h.ctrl.Start(context.Background(), token))

		time.Sleep(2 * time.Second)
		h.press.up()
		require.True(t, h.ctrl.Stop())
		synctest.Wait()

		require.Empty(t, h.sink.delivered())
		_, _, discards := h.observer.snapshot()
		require.Equal(t, []DiscardReason{DiscardEmpty}, discards)
		require.Equal(t, PhaseIdle, h.ctrl.Phase())
	})
}

func TestCloseDisposesActiveSession(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t, nil, testConfig())
		token := h.press.down()
		require.NoError(t, h.ctrl.Start(context.Background(), token))
		time.Sleep(5 * time.Second)

		require.NoError(t, h.ctrl.Close())

		handle := h.device.lastHandle()
		require.NotNil(t, handle.finalizedAt.Load())
		require.Empty(t, h.sink.delivered())
		_, stops, discards := h.observer.snapshot()
		require.Equal(t, []StopReason{StopDisposed}, stops)
		require.Equal(t, []DiscardReason{DiscardDisposed}, discards)

		require.ErrorIs(t, h.ctrl.Start(context.Background(), token), ErrClosed)
		require.NoError(t, h.ctrl.Close())
	})
}

func TestCloseAbandonsAcquisitionInFlight(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		device := &fakeDevice{openGate: make(chan struct{})}
		h := newHarness(t, device, testConfig())
		token := h.press.down()

		errCh := make(chan error, 1)
		go func() { errCh <- h.ctrl.Start(context.Background(), token) }()
		synctest.Wait()

		require.NoError(t, h.ctrl.Close())
		err := <-errCh
		require.ErrorIs(t, err, ErrDeviceAcquisition)
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, PhaseIdle, h.ctrl.Phase())
		require.Empty(t, h.sink.delivered())
	})
}

func TestAdvanceRejectsIllegalEdges(t *testing.T) {
	ctrl := NewController(nil, &fakeDevice{}, &fakePress{}, nil, nil, Config{})
	defer ctrl.Close()

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	require.Error(t, ctrl.advance(PhaseActive))
	require.Error(t, ctrl.advance(PhaseFinalizing))
	require.NoError(t, ctrl.advance(PhaseAcquiring))
	require.Error(t, ctrl.advance(PhaseFinalizing))
	require.NoError(t, ctrl.advance(PhaseActive))
	require.Error(t, ctrl.advance(PhaseIdle))
}

func TestArtifactRemoveToleratesMissingFile(t *testing.T) {
	require.NoError(t, Artifact{}.Remove())
	require.NoError(t, Artifact{Path: t.TempDir() + "/missing.wav"}.Remove())
}

func TestDefaultConfigFillsZeroValues(t *testing.T) {
	cfg := Config{MinCapture: -1}.withDefaults()
	require.Equal(t, DefaultConfig().MaxDuration, cfg.MaxDuration)
	require.Equal(t, DefaultConfig().LivenessInterval, cfg.LivenessInterval)
	require.Equal(t, time.Duration(0), cfg.MinCapture)
}

func TestReasonValues(t *testing.T) {
	require.Equal(t, []string{"release", "timeout", "liveness", "disposed"}, []string{
		string(StopRelease), string(StopTimeout), string(StopLiveness), string(StopDisposed),
	})
	require.Equal(t, []string{"too_short", "disposed", "empty", "finalize_failed"}, []string{
		string(DiscardTooShort), string(DiscardDisposed), string(DiscardEmpty), string(DiscardFinalizeFailed),
	})
	for _, err := range []error{ErrAlreadyActive, ErrStartInFlight, ErrStaleToken, ErrClosed} {
		require.NotErrorIs(t, err, ErrPermissionDenied)
		require.NotErrorIs(t, err, ErrDeviceAcquisition)
	}
}
