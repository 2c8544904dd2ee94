package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the bridge configuration. Values come from an optional YAML
// file overridden by environment variables.
type Config struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`

	StorePath string `yaml:"store_path"`
	LogLevel  string `yaml:"log_level"`

	FetchTimeoutMs  int      `yaml:"fetch_timeout_ms"`
	SoapTimeoutMs   int      `yaml:"soap_timeout_ms"`
	SettleWindowMs  int      `yaml:"settle_window_ms"`
	RescanInterval  string   `yaml:"rescan_interval"`
	StaticDeviceIPs []string `yaml:"static_device_ips"`
	AdvertEnabled   bool     `yaml:"advert_enabled"`
}

// Load reads the optional YAML file named by CASTBRIDGE_CONFIG, then applies
// environment overrides and defaults.
func Load() (Config, error) {
	cfg := Config{
		Host:           "0.0.0.0",
		Port:           "9300",
		StorePath:      "./data/castbridge.db",
		LogLevel:       "info",
		FetchTimeoutMs: 5000,
		SoapTimeoutMs:  10000,
		SettleWindowMs: 3000,
		RescanInterval: "5m",
		AdvertEnabled:  true,
	}

	if path := os.Getenv("CASTBRIDGE_CONFIG"); path != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(payload, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Host = envString("HOST", cfg.Host)
	cfg.Port = envString("PORT", cfg.Port)
	cfg.StorePath = envString("STORE_PATH", cfg.StorePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.FetchTimeoutMs = envInt("FETCH_TIMEOUT_MS", cfg.FetchTimeoutMs)
	cfg.SoapTimeoutMs = envInt("SOAP_TIMEOUT_MS", cfg.SoapTimeoutMs)
	cfg.SettleWindowMs = envInt("SETTLE_WINDOW_MS", cfg.SettleWindowMs)
	cfg.RescanInterval = envString("RESCAN_INTERVAL", cfg.RescanInterval)
	if ips := envCSV("STATIC_DEVICE_IPS"); len(ips) > 0 {
		cfg.StaticDeviceIPs = ips
	}
	cfg.AdvertEnabled = envBool("ADVERT_ENABLED", cfg.AdvertEnabled)

	if cfg.FetchTimeoutMs <= 0 || cfg.SoapTimeoutMs <= 0 || cfg.SettleWindowMs <= 0 {
		return Config{}, fmt.Errorf("timeouts must be positive")
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}

func envCSV(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
