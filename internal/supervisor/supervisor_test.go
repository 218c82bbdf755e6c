package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/common"
)

type recordingCallbacks struct {
	mu       sync.Mutex
	started  int
	exited   int
	exitCode int
	exitCh   chan int
}

func newRecordingCallbacks() *recordingCallbacks {
	return &recordingCallbacks{exitCh: make(chan int, 4)}
}

func (r *recordingCallbacks) OnApplicationStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingCallbacks) OnApplicationExited(code int) {
	r.mu.Lock()
	r.exited++
	r.exitCode = code
	r.mu.Unlock()
	r.exitCh <- code
}

func (r *recordingCallbacks) waitExit(t *testing.T) int {
	t.Helper()
	select {
	case code := <-r.exitCh:
		return code
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit callback")
		return 0
	}
}

func TestSpawnCapturesOutput(t *testing.T) {
	callbacks := newRecordingCallbacks()
	sup := New(8, time.Second, callbacks, zap.NewNop())

	err := sup.Spawn([]string{"/bin/sh", "-c", "echo line-one; echo line-two >&2"}, nil)
	require.NoError(t, err)

	code := callbacks.waitExit(t)
	assert.Equal(t, 0, code)

	// 输出读取与退出回调并发，等待两行都进入缓冲区
	require.Eventually(t, func() bool {
		return len(sup.RecentOutput()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	output := sup.RecentOutput()
	assert.Contains(t, output, "line-one")
	assert.Contains(t, output, "line-two")

	exitCode, exited := sup.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, 0, exitCode)
}

func TestSpawnEnvironment(t *testing.T) {
	callbacks := newRecordingCallbacks()
	sup := New(8, time.Second, callbacks, zap.NewNop())

	err := sup.Spawn([]string{"/bin/sh", "-c", "echo $HOYA_TEST_VALUE"},
		map[string]string{"HOYA_TEST_VALUE": "from-supervisor"})
	require.NoError(t, err)
	callbacks.waitExit(t)

	require.Eventually(t, func() bool {
		return len(sup.RecentOutput()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"from-supervisor"}, sup.RecentOutput())
}

func TestSpawnNonZeroExit(t *testing.T) {
	callbacks := newRecordingCallbacks()
	sup := New(8, time.Second, callbacks, zap.NewNop())

	require.NoError(t, sup.Spawn([]string{"/bin/sh", "-c", "exit 3"}, nil))
	code := callbacks.waitExit(t)
	assert.Equal(t, 3, code)

	callbacks.mu.Lock()
	defer callbacks.mu.Unlock()
	assert.Equal(t, 1, callbacks.exited)
}

func TestSpawnAlreadyRunning(t *testing.T) {
	callbacks := newRecordingCallbacks()
	sup := New(8, time.Second, callbacks, zap.NewNop())

	require.NoError(t, sup.Spawn([]string{"/bin/sh", "-c", "sleep 30"}, nil))
	defer sup.Stop()

	err := sup.Spawn([]string{"/bin/sh", "-c", "echo second"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAlreadyRunning)
}

func TestSpawnAgainAfterExit(t *testing.T) {
	callbacks := newRecordingCallbacks()
	sup := New(8, time.Second, callbacks, zap.NewNop())

	require.NoError(t, sup.Spawn([]string{"/bin/sh", "-c", "exit 0"}, nil))
	callbacks.waitExit(t)

	require.NoError(t, sup.Spawn([]string{"/bin/sh", "-c", "exit 0"}, nil))
	callbacks.waitExit(t)

	callbacks.mu.Lock()
	defer callbacks.mu.Unlock()
	assert.Equal(t, 2, callbacks.started)
	assert.Equal(t, 2, callbacks.exited)
}

func TestStopTerminatesProcess(t *testing.T) {
	callbacks := newRecordingCallbacks()
	sup := New(8, 2*time.Second, callbacks, zap.NewNop())

	require.NoError(t, sup.Spawn([]string{"/bin/sh", "-c", "sleep 60"}, nil))
	assert.True(t, sup.Running())

	sup.Stop()
	assert.False(t, sup.Running())

	_, exited := sup.ExitCode()
	assert.True(t, exited)

	// 幂等
	sup.Stop()
	sup.Stop()
}

func TestStopBeforeSpawn(t *testing.T) {
	sup := New(8, time.Second, newRecordingCallbacks(), zap.NewNop())
	sup.Stop()
	assert.False(t, sup.Running())
}

func TestOutputRingDropsOldest(t *testing.T) {
	ring := newOutputRing(3)
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		ring.Add(line)
	}
	assert.Equal(t, []string{"c", "d", "e"}, ring.Lines())
}

func TestOutputRingPartial(t *testing.T) {
	ring := newOutputRing(4)
	ring.Add("only")
	assert.Equal(t, []string{"only"}, ring.Lines())
}

func TestOutputRingOverflowFromProcess(t *testing.T) {
	callbacks := newRecordingCallbacks()
	sup := New(4, time.Second, callbacks, zap.NewNop())

	require.NoError(t, sup.Spawn([]string{"/bin/sh", "-c", "for i in 1 2 3 4 5 6; do echo line-$i; done"}, nil))
	callbacks.waitExit(t)

	require.Eventually(t, func() bool {
		return len(sup.RecentOutput()) == 4
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"line-3", "line-4", "line-5", "line-6"}, sup.RecentOutput())
}
