package gpudispatch

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the dispatcher.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Socket    SocketConfig    `mapstructure:"socket"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig defines the TCP front-end and lifecycle supervisor settings.
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	MessageSize   int           `mapstructure:"message_size"`
	ReadyFilePath string        `mapstructure:"ready_file_path"`
	BindRetries   int           `mapstructure:"bind_retries"`
	BindBackoff   time.Duration `mapstructure:"bind_backoff"`
}

// SchedulerConfig defines the autoscaling shape of the GPU/worker grid.
type SchedulerConfig struct {
	NumGPUs      int `mapstructure:"num_gpus"`
	MaxReqPerGPU int `mapstructure:"max_req_per_gpu"`
}

// WorkerConfig defines settings shared by every spawned worker process.
type WorkerConfig struct {
	Function     string            `mapstructure:"function"`
	Executable   string            `mapstructure:"executable"`
	Env          map[string]string `mapstructure:"env"`
	StartTimeout time.Duration     `mapstructure:"start_timeout"`
	IdleTimeout  time.Duration     `mapstructure:"idle_timeout"`
	StopTimeout  time.Duration     `mapstructure:"stop_timeout"`
}

// SocketConfig defines Unix domain socket settings for worker IPC endpoints.
type SocketConfig struct {
	Dir         string `mapstructure:"dir"`
	Prefix      string `mapstructure:"prefix"`
	Permissions uint32 `mapstructure:"permissions"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	TraceEnabled bool   `mapstructure:"trace_enabled"`
}

// MetricsConfig defines the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"`
}

// LoadConfig loads configuration from an optional file, then environment
// variables (prefix GPUDISPATCH_), layered over built-in defaults. Callers
// (cmd/gpudispatchd) bind CLI flags on top via viper.BindPFlag before
// calling LoadConfig, so flags win over file, which wins over defaults.
func LoadConfig(v *viper.Viper, configPath string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gpudispatch")
	}

	v.SetEnvPrefix("GPUDISPATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Scheduler.NumGPUs <= 0 {
		return nil, fmt.Errorf("scheduler.num_gpus must be > 0")
	}
	if cfg.Scheduler.MaxReqPerGPU <= 0 {
		return nil, fmt.Errorf("scheduler.max_req_per_gpu must be > 0")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.message_size", 1024)
	v.SetDefault("server.ready_file_path", "/tmp/server-ready.nil")
	v.SetDefault("server.bind_retries", 5)
	v.SetDefault("server.bind_backoff", "1s")

	v.SetDefault("worker.executable", "")
	v.SetDefault("worker.start_timeout", "5s")
	v.SetDefault("worker.idle_timeout", "60s")
	v.SetDefault("worker.stop_timeout", "1s")

	v.SetDefault("socket.dir", "/tmp")
	v.SetDefault("socket.prefix", "gpudispatch")
	v.SetDefault("socket.permissions", 0600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.trace_enabled", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}
