package appmaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indoos/hoya/internal/common"
)

func setContainerEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvContainerID, "container_1_0001_01_000001")
	t.Setenv(EnvNMHost, "nm-host")
	t.Setenv(EnvNMPort, "8041")
	t.Setenv(EnvNMHTTPPort, "8042")
	t.Setenv(EnvUser, "hoya")
	t.Setenv(EnvLogDir, "/var/log/hoya")
}

func TestLoadEnvironment(t *testing.T) {
	setContainerEnv(t)

	env, err := LoadEnvironment()
	require.NoError(t, err)

	assert.Equal(t, common.ContainerID("container_1_0001_01_000001"), env.ContainerID)
	assert.Equal(t, "nm-host", env.NMHost)
	assert.Equal(t, int32(8041), env.NMPort)
	assert.Equal(t, int32(8042), env.NMHTTPPort)
	assert.Equal(t, "hoya", env.User)
	assert.Equal(t, "/var/log/hoya", env.LogDir)
}

func TestLoadEnvironmentDefaultLogDir(t *testing.T) {
	setContainerEnv(t)
	t.Setenv(EnvLogDir, "")

	env, err := LoadEnvironment()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/hoya-hoya", env.LogDir)
}

func TestLoadEnvironmentMissingRequired(t *testing.T) {
	setContainerEnv(t)
	t.Setenv(EnvContainerID, "")
	t.Setenv(EnvNMHost, "")

	_, err := LoadEnvironment()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvContainerID)
	assert.Contains(t, err.Error(), EnvNMHost)
}

func TestLoadEnvironmentBadPort(t *testing.T) {
	setContainerEnv(t)
	t.Setenv(EnvNMPort, "not-a-port")

	_, err := LoadEnvironment()
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInternalState)
}
