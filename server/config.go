package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config 进程启动时读取一次的运行配置
type Config struct {
	BindAddress string `env:"BIND_ADDRESS" envDefault:"0.0.0.0"`
	Port        int    `env:"PORT" envDefault:"8087"`

	LogFile  string `env:"PRESENCE_LOG_FILE" envDefault:"presence.log"`
	LogLevel string `env:"PRESENCE_LOG_LEVEL" envDefault:"info"`

	// Bus 保留的事件条数；订阅者落后超过此值即被断开
	BusCapacity    int           `env:"PRESENCE_BUS_CAPACITY" envDefault:"100"`
	MaxMessageSize int64         `env:"PRESENCE_MAX_MESSAGE_SIZE" envDefault:"4096"`
	WriteWait      time.Duration `env:"PRESENCE_WRITE_WAIT" envDefault:"10s"`
	PongWait       time.Duration `env:"PRESENCE_PONG_WAIT" envDefault:"60s"`

	// 为 true 时 GameState 与 Error 广播给所有会话，否则只发给触发它的会话
	BroadcastAll bool `env:"PRESENCE_BROADCAST_ALL" envDefault:"false"`

	ReportInterval time.Duration `env:"PRESENCE_REPORT_INTERVAL" envDefault:"30s"`
	AllowedOrigins []string      `env:"PRESENCE_ALLOWED_ORIGINS" envSeparator:","`
}

// DefaultConfig 返回全部取默认值的配置
func DefaultConfig() Config {
	return Config{
		BindAddress:    "0.0.0.0",
		Port:           8087,
		LogFile:        "presence.log",
		LogLevel:       "info",
		BusCapacity:    100,
		MaxMessageSize: 4096,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		ReportInterval: 30 * time.Second,
	}
}

// LoadConfig 从环境变量读取配置
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.sanitize(), nil
}

// Addr 监听地址 host:port
func (c Config) Addr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// PingPeriod 心跳间隔，必须小于 PongWait
func (c Config) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = def.Port
	}
	if c.BusCapacity <= 0 {
		c.BusCapacity = def.BusCapacity
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.ReportInterval < 0 {
		c.ReportInterval = 0
	}
	return c
}
