package liveness

import (
	"os"
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessProber_Self(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no signal probe on windows")
	}
	p := NewProcessProber()
	assert.Equal(t, Alive, p.Probe(os.Getpid(), ""))
	assert.Equal(t, Alive, p.Probe(os.Getpid(), Hostname()))
}

func TestProcessProber_ExitedProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no signal probe on windows")
	}
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	// The child has been reaped by Wait, so its pid is free.
	assert.Equal(t, Dead, NewProcessProber().Probe(cmd.Process.Pid, ""))
}

func TestProcessProber_OtherHost(t *testing.T) {
	p := &ProcessProber{Hostname: "here"}
	assert.Equal(t, Unknown, p.Probe(os.Getpid(), "elsewhere"))
}

func TestProcessProber_InvalidPID(t *testing.T) {
	p := NewProcessProber()
	assert.Equal(t, Unknown, p.Probe(0, ""))
	assert.Equal(t, Unknown, p.Probe(-1, ""))
}

func TestNoopProber(t *testing.T) {
	assert.Equal(t, Unknown, NoopProber{}.Probe(os.Getpid(), ""))
}

func TestProberFunc(t *testing.T) {
	var p Prober = ProberFunc(func(pid int, _ string) Result {
		if pid == 1 {
			return Alive
		}
		return Dead
	})
	assert.Equal(t, Alive, p.Probe(1, ""))
	assert.Equal(t, Dead, p.Probe(2, ""))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "alive", Alive.String())
	assert.Equal(t, "dead", Dead.String())
	assert.Equal(t, "unknown", Unknown.String())
}
