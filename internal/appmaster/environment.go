package appmaster

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/indoos/hoya/internal/common"
)

// ResourceManager 为 AM 容器设置的环境变量
const (
	EnvContainerID = "CONTAINER_ID"
	EnvNMHost      = "NM_HOST"
	EnvNMPort      = "NM_PORT"
	EnvNMHTTPPort  = "NM_HTTP_PORT"
	EnvUser        = "USER"
	EnvLogDir      = "LOGDIR"
)

// Environment AM 自身容器的运行环境
type Environment struct {
	ContainerID common.ContainerID
	NMHost      string
	NMPort      int32
	NMHTTPPort  int32
	User        string
	LogDir      string
}

// LoadEnvironment 读取 ResourceManager 注入的环境变量。
// 除 LOGDIR 外都是必需的；LOGDIR 缺省为 /tmp/hoya-<user>
func LoadEnvironment() (*Environment, error) {
	var missing []string
	lookup := func(key string) string {
		value := os.Getenv(key)
		if value == "" {
			missing = append(missing, key)
		}
		return value
	}

	env := &Environment{
		ContainerID: common.ContainerID(lookup(EnvContainerID)),
		NMHost:      lookup(EnvNMHost),
		User:        lookup(EnvUser),
	}

	if portStr := lookup(EnvNMPort); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, common.NewHoyaError(common.ErrInternalState,
				fmt.Sprintf("invalid %s value %q", EnvNMPort, portStr), err)
		}
		env.NMPort = int32(port)
	}
	if portStr := lookup(EnvNMHTTPPort); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, common.NewHoyaError(common.ErrInternalState,
				fmt.Sprintf("invalid %s value %q", EnvNMHTTPPort, portStr), err)
		}
		env.NMHTTPPort = int32(port)
	}

	if len(missing) > 0 {
		return nil, common.NewHoyaError(common.ErrInternalState,
			"missing required environment variables: "+strings.Join(missing, ", "), nil)
	}

	env.LogDir = os.Getenv(EnvLogDir)
	if env.LogDir == "" {
		env.LogDir = fmt.Sprintf("/tmp/hoya-%s", env.User)
	}

	return env, nil
}
