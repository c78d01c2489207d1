package pwnode

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/konsulko/pipewire/internal/testingsupport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestExportValidatesMinLatency(t *testing.T) {
	_, err := Export(context.Background(), testingsupport.NewMockNode(1, 1), ExportParams{Device: "test", MinLatency: 0}, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidArg))
}

func TestExportTruncatesLongDeviceName(t *testing.T) {
	long := strings.Repeat("x", maxDeviceNameLen+10)
	sess, err := Export(context.Background(), testingsupport.NewMockNode(1, 1), ExportParams{Device: long, MinLatency: 1}, nil)
	require.NoError(t, err)
	assert.Len(t, sess.Params().Device, maxDeviceNameLen)
}

func TestExportMovesToConnecting(t *testing.T) {
	sess, err := Export(context.Background(), testingsupport.NewMockNode(1, 1), ExportParams{Device: "test", MinLatency: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, sess.State())
}

func TestExportDefaultsObserverToNoOp(t *testing.T) {
	sess, err := Export(context.Background(), testingsupport.NewMockNode(1, 1), ExportParams{Device: "test", MinLatency: 1}, nil)
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestExportWithObserverRecordsStateTransitions(t *testing.T) {
	m := NewMetrics("pwnode", "test_export_state")
	obs := NewMetricsObserver(m)

	sess, err := Export(context.Background(), testingsupport.NewMockNode(1, 1), ExportParams{Device: "test", MinLatency: 1}, &Options{Observer: obs})
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, sess.State())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stateTransitionsTotal.WithLabelValues("unconnected", "connecting")))
}

func TestSessionStartStopRoundTrip(t *testing.T) {
	sess, err := Export(context.Background(), testingsupport.NewMockNode(1, 1), ExportParams{Device: "test", MinLatency: 1}, nil)
	require.NoError(t, err)

	var pipeA, pipeB [2]int
	require.NoError(t, unix.Pipe(pipeA[:]))
	require.NoError(t, unix.Pipe(pipeB[:]))
	t.Cleanup(func() {
		unix.Close(pipeB[0])
		unix.Close(pipeA[1])
	})

	sess.Attach(1, 1, pipeA[0], pipeB[1])
	assert.Equal(t, StateConnected, sess.State())

	require.NoError(t, sess.Start(context.Background()))
	require.NoError(t, sess.Stop())
	assert.Equal(t, StateUnconnected, sess.State())
}

func TestSessionStartFallsBackToExportContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sess, err := Export(ctx, testingsupport.NewMockNode(1, 1), ExportParams{Device: "test", MinLatency: 1}, nil)
	require.NoError(t, err)

	var pipeA, pipeB [2]int
	require.NoError(t, unix.Pipe(pipeA[:]))
	require.NoError(t, unix.Pipe(pipeB[:]))
	t.Cleanup(func() {
		unix.Close(pipeB[0])
		unix.Close(pipeA[1])
	})

	sess.Attach(1, 1, pipeA[0], pipeB[1])
	require.NoError(t, sess.Start(nil))
	require.NoError(t, sess.Stop())
}

func TestStateStringer(t *testing.T) {
	assert.Equal(t, "unconnected", StateUnconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "error", StateError.String())
}
