package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/annel0/worldstore/internal/compression"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации хранилища мира.
type Config struct {
	World   WorldConfig   `yaml:"world"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

type WorldConfig struct {
	Name string `yaml:"name"`
	Seed int64  `yaml:"seed"`
}

type StorageConfig struct {
	Dir          string `yaml:"dir"`
	MaxOpenFiles int    `yaml:"max_open_files"`
	// WriteLights nil - по умолчанию true
	WriteLights *bool             `yaml:"write_lights"`
	Compression CompressionConfig `yaml:"compression"`
	// MinFreeDiskMB порог свободного места, ниже которого Flush предупреждает
	MinFreeDiskMB uint64 `yaml:"min_free_disk_mb"`
}

// CompressionConfig методы сжатия слоёв; nil - метод слоя по умолчанию
type CompressionConfig struct {
	Voxels      *compression.Method `yaml:"voxels"`
	Lights      *compression.Method `yaml:"lights"`
	Inventories *compression.Method `yaml:"inventories"`
}

type ServerConfig struct {
	MetricsPort     int    `yaml:"metrics_port"`
	AutosaveSeconds int    `yaml:"autosave_seconds"`
	ServiceName     string `yaml:"service_name"`
	Telemetry       bool   `yaml:"telemetry"`
	// TraceSampleRatio доля трассируемых Flush (0..1); 0 - все
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

// Default конфигурация без файла
func Default() *Config {
	return &Config{}
}

// GetDir возвращает каталог мира: config -> WORLD_DIR -> "world"
func (s *StorageConfig) GetDir() string {
	if s.Dir != "" {
		return s.Dir
	}
	if dir := os.Getenv("WORLD_DIR"); dir != "" {
		return dir
	}
	return "world"
}

// GetMaxOpenFiles возвращает предел открытых регион-файлов
func (s *StorageConfig) GetMaxOpenFiles() int {
	return getIntWithEnvFallback(s.MaxOpenFiles, "WORLD_MAX_OPEN_FILES", 16)
}

// GetWriteLights записывать ли слой освещения
func (s *StorageConfig) GetWriteLights() bool {
	if s.WriteLights == nil {
		return true
	}
	return *s.WriteLights
}

// GetMinFreeDisk порог свободного места в байтах
func (s *StorageConfig) GetMinFreeDisk() uint64 {
	if s.MinFreeDiskMB == 0 {
		return 512 << 20
	}
	return s.MinFreeDiskMB << 20
}

// GetMetricsPort возвращает порт Prometheus метрик
func (s *ServerConfig) GetMetricsPort() int {
	return getIntWithEnvFallback(s.MetricsPort, "WORLD_METRICS_PORT", 2112)
}

// GetAutosaveInterval период автосохранения
func (s *ServerConfig) GetAutosaveInterval() time.Duration {
	return time.Duration(getIntWithEnvFallback(s.AutosaveSeconds, "WORLD_AUTOSAVE_SECONDS", 60)) * time.Second
}

// GetServiceName имя сервиса для трассировки
func (s *ServerConfig) GetServiceName() string {
	if s.ServiceName == "" {
		return "worldstore"
	}
	return s.ServiceName
}

// GetTraceSampleRatio доля трассируемых операций в диапазоне (0, 1]
func (s *ServerConfig) GetTraceSampleRatio() float64 {
	if s.TraceSampleRatio <= 0 || s.TraceSampleRatio > 1 {
		return 1
	}
	return s.TraceSampleRatio
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configValue int, envVar string, defaultValue int) int {
	if configValue > 0 {
		return configValue
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if value, err := strconv.Atoi(envVal); err == nil && value > 0 {
			return value
		}
	}

	return defaultValue
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV WORLD_CONFIG или возвращает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("WORLD_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}

	return cfg, nil
}
