// Package config 加载 ring0d 的 YAML 配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 根配置。
type Config struct {
	Driver  DriverConfig  `yaml:"driver"`
	IPC     IPCConfig     `yaml:"ipc"`
	Logging LoggingConfig `yaml:"logging"`
}

// DriverConfig 驱动桥配置。
type DriverConfig struct {
	// DeviceID 设备对象标识，设备路径为 \\.\<DeviceID>。
	DeviceID           string        `yaml:"device_id"`
	DeviceType         uint32        `yaml:"device_type"`
	ServicePrefix      string        `yaml:"service_prefix"`
	DefaultServiceName string        `yaml:"default_service_name"`
	Image              string        `yaml:"image"`
	ImageDigest        string        `yaml:"image_digest"`
	FallbackDir        string        `yaml:"fallback_dir"`
	ExtractTimeout     time.Duration `yaml:"extract_timeout"`
	InstallRetryDelay  time.Duration `yaml:"install_retry_delay"`
}

// IPCConfig 命名管道配置。
type IPCConfig struct {
	PipeName      string   `yaml:"pipe_name"`
	AllowedImages []string `yaml:"allowed_images"`
}

// LoggingConfig 日志配置。
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default 返回默认配置。
func Default() *Config {
	return &Config{
		Driver: DriverConfig{
			DeviceID:           "WinRing0_1_2_0",
			DeviceType:         40000,
			ServicePrefix:      "R0",
			DefaultServiceName: "WinRing0",
			Image:              "WinRing0x64.sys.z",
			ExtractTimeout:     2 * time.Second,
			InstallRetryDelay:  2 * time.Second,
		},
		IPC: IPCConfig{
			PipeName: `\\.\pipe\Ring0Bridge`,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load 依次应用默认值、YAML 文件、环境变量覆盖并校验。path 为空时只使用默认值。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides 环境变量格式: RING0_<KEY>
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RING0_DEVICE_ID"); v != "" {
		cfg.Driver.DeviceID = v
	}
	if v := os.Getenv("RING0_PIPE_NAME"); v != "" {
		cfg.IPC.PipeName = v
	}
	if v := os.Getenv("RING0_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("RING0_PIPE_ALLOWED_IMAGES")); v != "" {
		cfg.IPC.AllowedImages = nil
		for _, part := range strings.Split(v, ";") {
			if part = strings.TrimSpace(part); part != "" {
				cfg.IPC.AllowedImages = append(cfg.IPC.AllowedImages, part)
			}
		}
	}
}

// Validate 检查配置。
func (c *Config) Validate() error {
	var errs []error

	if c.Driver.DeviceID == "" {
		errs = append(errs, errors.New("driver.device_id 不能为空"))
	}
	if c.Driver.DeviceType == 0 || c.Driver.DeviceType > 0xFFFF {
		errs = append(errs, fmt.Errorf("driver.device_type 必须在 1-65535 之间: %d", c.Driver.DeviceType))
	}
	if c.Driver.ServicePrefix == "" {
		errs = append(errs, errors.New("driver.service_prefix 不能为空"))
	}
	if c.Driver.ExtractTimeout <= 0 {
		errs = append(errs, errors.New("driver.extract_timeout 必须大于 0"))
	}
	if c.Driver.InstallRetryDelay < 0 {
		errs = append(errs, errors.New("driver.install_retry_delay 不能为负"))
	}
	if c.IPC.PipeName == "" {
		errs = append(errs, errors.New("ipc.pipe_name 不能为空"))
	}

	return errors.Join(errs...)
}
