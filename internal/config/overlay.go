package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// overlay is the optional YAML file shape. Only fields that commonly need
// site-level tuning are exposed; zero values leave the env-derived value.
type overlay struct {
	CreatePollInterval time.Duration `yaml:"create_poll_interval"`
	StopPollInterval   time.Duration `yaml:"stop_poll_interval"`
	PollErrorWait      time.Duration `yaml:"poll_error_wait"`
	PollDisconnectWait time.Duration `yaml:"poll_disconnect_wait"`
	HTTPConnectTimeout time.Duration `yaml:"http_connect_timeout"`
	HTTPReadTimeout    time.Duration `yaml:"http_read_timeout"`
	UsersPerProcess    int           `yaml:"users_per_process"`
	WorkerBasePort     int           `yaml:"worker_base_port"`
}

func applyOverlay(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("op=config.applyOverlay: %w", err)
	}
	var o overlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("op=config.applyOverlay: %w", err)
	}
	if o.CreatePollInterval > 0 {
		cfg.CreatePollInterval = o.CreatePollInterval
	}
	if o.StopPollInterval > 0 {
		cfg.StopPollInterval = o.StopPollInterval
	}
	if o.PollErrorWait > 0 {
		cfg.PollErrorWait = o.PollErrorWait
	}
	if o.PollDisconnectWait > 0 {
		cfg.PollDisconnectWait = o.PollDisconnectWait
	}
	if o.HTTPConnectTimeout > 0 {
		cfg.HTTPConnectTimeout = o.HTTPConnectTimeout
	}
	if o.HTTPReadTimeout > 0 {
		cfg.HTTPReadTimeout = o.HTTPReadTimeout
	}
	if o.UsersPerProcess > 0 {
		cfg.UsersPerProcess = o.UsersPerProcess
	}
	if o.WorkerBasePort > 0 {
		cfg.WorkerBasePort = o.WorkerBasePort
	}
	return nil
}
