// Package config загружает YAML конфигурацию сервера моста и
// преобразует ее в конфигурации пакетов media, bridge и transport.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arzzra/voice_bridge/pkg/bridge"
	"github.com/arzzra/voice_bridge/pkg/media"
	"github.com/arzzra/voice_bridge/pkg/packet"
)

// Config корневая конфигурация сервера
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Stream    StreamConfig    `yaml:"stream"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Media     MediaConfig     `yaml:"media"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level  string `yaml:"level"`  // trace..panic
	Format string `yaml:"format"` // text | json
}

// MetricsConfig настройки экспорта метрик
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// StreamConfig настройки WebSocket медиа стримов (нога AI)
type StreamConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
	Codec      string `yaml:"codec"`
}

// TelephonyConfig настройки телефонного шлюза (пакетный сокет)
type TelephonyConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Codec      string `yaml:"codec"` // pcmu | pcma | g722
	DTLS       bool   `yaml:"dtls"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
}

// MediaConfig настройки медиа обработки
type MediaConfig struct {
	CanonicalRate uint32       `yaml:"canonical_rate"`
	Jitter        JitterConfig `yaml:"jitter"`
}

// JitterConfig настройки jitter buffer
type JitterConfig struct {
	MinDepth     int           `yaml:"min_depth"`
	MaxDepth     int           `yaml:"max_depth"`
	TargetDepth  int           `yaml:"target_depth"`
	TickInterval time.Duration `yaml:"tick_interval"`
	LossDeadline time.Duration `yaml:"loss_deadline"`
}

// BridgeConfig настройки аудио моста
type BridgeConfig struct {
	QueueSize           int           `yaml:"queue_size"`
	BackpressureTimeout time.Duration `yaml:"backpressure_timeout"`
	StopGrace           time.Duration `yaml:"stop_grace"`
	AIFrameDuration     time.Duration `yaml:"ai_frame_duration"`
	TelephonyFrame      time.Duration `yaml:"telephony_frame_duration"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	jb := media.DefaultJitterBufferConfig()
	br := bridge.DefaultConfig()
	return &Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{ListenAddr: ":9091"},
		Stream:  StreamConfig{ListenAddr: ":8080", Path: "/stream", Codec: "pcmu"},
		Telephony: TelephonyConfig{
			ListenAddr: ":0",
			Codec:      "pcmu",
		},
		Media: MediaConfig{
			CanonicalRate: 16000,
			Jitter: JitterConfig{
				MinDepth:     jb.MinDepth,
				MaxDepth:     jb.MaxDepth,
				TargetDepth:  jb.TargetDepth,
				TickInterval: jb.TickInterval,
				LossDeadline: jb.LossDeadline,
			},
		},
		Bridge: BridgeConfig{
			QueueSize:           br.QueueSize,
			BackpressureTimeout: br.BackpressureTimeout,
			StopGrace:           br.StopGrace,
			AIFrameDuration:     br.AIFrameDuration,
			TelephonyFrame:      br.TelephonyFrameDuration,
		},
	}
}

// Load читает конфигурацию из YAML файла поверх значений по
// умолчанию. Пустой путь дает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	if _, err := ParsePayloadType(c.Telephony.Codec); err != nil {
		return fmt.Errorf("telephony.codec: %w", err)
	}
	if _, err := ParsePayloadType(c.Stream.Codec); err != nil {
		return fmt.Errorf("stream.codec: %w", err)
	}
	if c.Media.Jitter.MinDepth > 0 && c.Media.Jitter.MaxDepth > 0 &&
		c.Media.Jitter.MaxDepth < c.Media.Jitter.MinDepth {
		return fmt.Errorf("jitter: max_depth меньше min_depth")
	}
	if c.Telephony.DTLS && (c.Telephony.CertFile == "" || c.Telephony.KeyFile == "") {
		return fmt.Errorf("telephony: dtls требует cert_file и key_file")
	}
	return nil
}

// ParsePayloadType преобразует имя кодека в payload type
func ParsePayloadType(name string) (packet.PayloadType, error) {
	switch name {
	case "pcmu", "":
		return packet.PayloadTypePCMU, nil
	case "pcma":
		return packet.PayloadTypePCMA, nil
	case "g722":
		return packet.PayloadTypeG722, nil
	default:
		return 0, fmt.Errorf("неизвестный кодек %q", name)
	}
}

// JitterBufferConfig собирает конфигурацию jitter buffer
func (c *Config) JitterBufferConfig() media.JitterBufferConfig {
	jb := media.DefaultJitterBufferConfig()
	if c.Media.Jitter.MinDepth > 0 {
		jb.MinDepth = c.Media.Jitter.MinDepth
	}
	if c.Media.Jitter.MaxDepth > 0 {
		jb.MaxDepth = c.Media.Jitter.MaxDepth
	}
	if c.Media.Jitter.TargetDepth > 0 {
		jb.TargetDepth = c.Media.Jitter.TargetDepth
	}
	if c.Media.Jitter.TickInterval > 0 {
		jb.TickInterval = c.Media.Jitter.TickInterval
	}
	if c.Media.Jitter.LossDeadline > 0 {
		jb.LossDeadline = c.Media.Jitter.LossDeadline
	}
	return jb
}

// BridgeConfig собирает конфигурацию аудио моста
func (c *Config) BridgeConfig() bridge.Config {
	br := bridge.DefaultConfig()
	if c.Bridge.QueueSize > 0 {
		br.QueueSize = c.Bridge.QueueSize
	}
	if c.Bridge.BackpressureTimeout > 0 {
		br.BackpressureTimeout = c.Bridge.BackpressureTimeout
	}
	if c.Bridge.StopGrace > 0 {
		br.StopGrace = c.Bridge.StopGrace
	}
	if c.Bridge.AIFrameDuration > 0 {
		br.AIFrameDuration = c.Bridge.AIFrameDuration
	}
	if c.Bridge.TelephonyFrame > 0 {
		br.TelephonyFrameDuration = c.Bridge.TelephonyFrame
	}
	br.JitterBuffer = c.JitterBufferConfig()
	return br
}
