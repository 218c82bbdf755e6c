package common

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config AM 运行参数配置
type Config struct {
	AppMaster AppMasterConfig `yaml:"appmaster"`
	Events    EventsConfig    `yaml:"events"`
}

// AppMasterConfig ApplicationMaster 配置
type AppMasterConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	LauncherJoinTimeout  time.Duration `yaml:"launcher_join_timeout"`
	StopGracePeriod      time.Duration `yaml:"stop_grace_period"`
	ShutdownDrainDelay   time.Duration `yaml:"shutdown_drain_delay"`
	RPCBindAddress       string        `yaml:"rpc_bind_address"`
	RPCHandlerPool       int           `yaml:"rpc_handler_pool"`
	OutputRingSize       int           `yaml:"output_ring_size"`
	MaxTolerableFailures int           `yaml:"max_tolerable_failures"`
	ContainerPriority    int32         `yaml:"container_priority"`
}

// EventsConfig 生命周期事件发布配置，未配置 broker 时不发布
type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	Topic        string   `yaml:"topic"`
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		AppMaster: AppMasterConfig{
			HeartbeatInterval:    1 * time.Second,
			LauncherJoinTimeout:  10 * time.Second,
			StopGracePeriod:      10 * time.Second,
			ShutdownDrainDelay:   1 * time.Second,
			RPCBindAddress:       ":0",
			RPCHandlerPool:       5,
			OutputRingSize:       64,
			MaxTolerableFailures: 10,
			ContainerPriority:    1,
		},
		Events: EventsConfig{
			Topic: "hoya-cluster-events",
		},
	}
}

// LoadConfig 从 YAML 文件加载配置，缺省字段使用默认值
func LoadConfig(path string) (*Config, error) {
	config := GetDefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}
