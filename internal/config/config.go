package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AudioConfig struct {
	SampleRate          int  `yaml:"sample_rate"`
	Channels            int  `yaml:"channels"`
	FrameSize           int  `yaml:"frame_size"`
	MaxRecordingSeconds int  `yaml:"max_recording_seconds"`
	AlwaysOnStream      bool `yaml:"always_on_stream"`
	DeviceID            int  `yaml:"device_id"`
}

type VADConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Backend       string  `yaml:"backend"` // silero, energy
	Threshold     float64 `yaml:"threshold"`
	FilterSilence bool    `yaml:"filter_silence"`
	ModelPath     string  `yaml:"model_path"`
}

type ModelsConfig struct {
	Dir                string `yaml:"dir"`
	Active             string `yaml:"active"`
	Backend            string `yaml:"backend"`  // onnx, mock
	Provider           string `yaml:"provider"` // auto, cpu, cuda
	FallbackToCPU      bool   `yaml:"fallback_to_cpu"`
	UnloadAfterMinutes int    `yaml:"unload_after_minutes"`
	Warmup             bool   `yaml:"warmup"`
	ONNXLibraryPath    string `yaml:"onnx_library_path"`
}

type DecoderConfig struct {
	ChunkThresholdSec    float64 `yaml:"chunk_threshold_sec"`
	ChunkSizeSec         float64 `yaml:"chunk_size_sec"`
	ChunkOverlapSec      float64 `yaml:"chunk_overlap_sec"`
	MaxTokensPerStep     int     `yaml:"max_tokens_per_step"`
	MaxConsecutiveBlanks int     `yaml:"max_consecutive_blanks"`
	TimeoutSeconds       int     `yaml:"timeout_seconds"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RecordingsDir string `yaml:"recordings_dir"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type PostConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Mode        string            `yaml:"mode"` // mock, ollama, exec
	Endpoint    string            `yaml:"endpoint"`
	Command     string            `yaml:"command"`
	Model       string            `yaml:"model"`
	Prompt      string            `yaml:"prompt"`
	System      string            `yaml:"system_prompt"`
	MaxTokens   int               `yaml:"max_tokens"`
	Temperature float64           `yaml:"temperature"`
	CustomWords map[string]string `yaml:"custom_words"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Audio       AudioConfig     `yaml:"audio"`
	VAD         VADConfig       `yaml:"vad"`
	Models      ModelsConfig    `yaml:"models"`
	Decoder     DecoderConfig   `yaml:"decoder"`
	History     HistoryConfig   `yaml:"history"`
	Post        PostConfig      `yaml:"post"`
}

func Default() Config {
	return Config{
		RuntimeName: "hush-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			SampleRate:          16000,
			Channels:            1,
			FrameSize:           512,
			MaxRecordingSeconds: 120,
			AlwaysOnStream:      true,
			DeviceID:            -1,
		},
		VAD: VADConfig{
			Enabled:       true,
			Backend:       "silero",
			Threshold:     0.5,
			FilterSilence: true,
		},
		Models: ModelsConfig{
			Dir:           "./data/models",
			Active:        "parakeet-v3-int8",
			Backend:       "onnx",
			Provider:      "auto",
			FallbackToCPU: true,
			Warmup:        true,
		},
		Decoder: DecoderConfig{
			ChunkThresholdSec:    30,
			ChunkSizeSec:         30,
			ChunkOverlapSec:      2,
			MaxTokensPerStep:     10,
			MaxConsecutiveBlanks: 50,
			TimeoutSeconds:       120,
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/hush-history.db",
			RecordingsDir: "./data/recordings",
			RetentionDays: 30,
			MaxEntries:    10000,
		},
		Post: PostConfig{
			Enabled:     false,
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			Prompt:      "${output}",
			MaxTokens:   256,
			Temperature: 0.3,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "HUSH_RUNTIME_NAME")
	overrideString(&cfg.Environment, "HUSH_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "HUSH_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "HUSH_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "HUSH_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "HUSH_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "HUSH_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "HUSH_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "HUSH_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "HUSH_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "HUSH_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "HUSH_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "HUSH_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "HUSH_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "HUSH_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Audio.SampleRate, "HUSH_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "HUSH_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameSize, "HUSH_AUDIO_FRAME_SIZE")
	overrideInt(&cfg.Audio.MaxRecordingSeconds, "HUSH_AUDIO_MAX_RECORDING_SECONDS")
	overrideBool(&cfg.Audio.AlwaysOnStream, "HUSH_AUDIO_ALWAYS_ON_STREAM")
	overrideInt(&cfg.Audio.DeviceID, "HUSH_AUDIO_DEVICE_ID")
	overrideBool(&cfg.VAD.Enabled, "HUSH_VAD_ENABLED")
	overrideString(&cfg.VAD.Backend, "HUSH_VAD_BACKEND")
	overrideFloat(&cfg.VAD.Threshold, "HUSH_VAD_THRESHOLD")
	overrideBool(&cfg.VAD.FilterSilence, "HUSH_VAD_FILTER_SILENCE")
	overrideString(&cfg.VAD.ModelPath, "HUSH_VAD_MODEL_PATH")
	overrideString(&cfg.Models.Dir, "HUSH_MODELS_DIR")
	overrideString(&cfg.Models.Active, "HUSH_MODELS_ACTIVE")
	overrideString(&cfg.Models.Backend, "HUSH_MODELS_BACKEND")
	overrideString(&cfg.Models.Provider, "HUSH_MODELS_PROVIDER")
	overrideBool(&cfg.Models.FallbackToCPU, "HUSH_MODELS_FALLBACK_TO_CPU")
	overrideInt(&cfg.Models.UnloadAfterMinutes, "HUSH_MODELS_UNLOAD_AFTER_MINUTES")
	overrideBool(&cfg.Models.Warmup, "HUSH_MODELS_WARMUP")
	overrideString(&cfg.Models.ONNXLibraryPath, "HUSH_MODELS_ONNX_LIBRARY_PATH")
	overrideFloat(&cfg.Decoder.ChunkThresholdSec, "HUSH_DECODER_CHUNK_THRESHOLD_SEC")
	overrideFloat(&cfg.Decoder.ChunkSizeSec, "HUSH_DECODER_CHUNK_SIZE_SEC")
	overrideFloat(&cfg.Decoder.ChunkOverlapSec, "HUSH_DECODER_CHUNK_OVERLAP_SEC")
	overrideInt(&cfg.Decoder.MaxTokensPerStep, "HUSH_DECODER_MAX_TOKENS_PER_STEP")
	overrideInt(&cfg.Decoder.MaxConsecutiveBlanks, "HUSH_DECODER_MAX_CONSECUTIVE_BLANKS")
	overrideInt(&cfg.Decoder.TimeoutSeconds, "HUSH_DECODER_TIMEOUT_SECONDS")
	overrideBool(&cfg.History.Enabled, "HUSH_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "HUSH_HISTORY_PATH")
	overrideString(&cfg.History.RecordingsDir, "HUSH_HISTORY_RECORDINGS_DIR")
	overrideInt(&cfg.History.RetentionDays, "HUSH_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxEntries, "HUSH_HISTORY_MAX_ENTRIES")
	overrideBool(&cfg.History.VacuumOnStart, "HUSH_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Post.Enabled, "HUSH_POST_ENABLED")
	overrideString(&cfg.Post.Mode, "HUSH_POST_MODE")
	overrideString(&cfg.Post.Endpoint, "HUSH_POST_ENDPOINT")
	overrideString(&cfg.Post.Command, "HUSH_POST_COMMAND")
	overrideString(&cfg.Post.Model, "HUSH_POST_MODEL")
	overrideString(&cfg.Post.Prompt, "HUSH_POST_PROMPT")
	overrideString(&cfg.Post.System, "HUSH_POST_SYSTEM_PROMPT")
	overrideInt(&cfg.Post.MaxTokens, "HUSH_POST_MAX_TOKENS")
	overrideFloat(&cfg.Post.Temperature, "HUSH_POST_TEMPERATURE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1 (mono capture)")
	}
	if cfg.Audio.FrameSize <= 0 {
		return errors.New("audio.frame_size must be positive")
	}
	if cfg.Audio.MaxRecordingSeconds <= 0 {
		return errors.New("audio.max_recording_seconds must be positive")
	}
	if cfg.VAD.Enabled {
		switch cfg.VAD.Backend {
		case "silero", "energy":
		default:
			return errors.New("vad.backend must be one of silero|energy")
		}
		if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
			return errors.New("vad.threshold must be within [0, 1]")
		}
	}
	switch cfg.Models.Backend {
	case "onnx", "mock":
	default:
		return errors.New("models.backend must be one of onnx|mock")
	}
	switch cfg.Models.Provider {
	case "auto", "cpu", "cuda":
	default:
		return errors.New("models.provider must be one of auto|cpu|cuda")
	}
	if cfg.Models.Dir == "" {
		return errors.New("models.dir must not be empty")
	}
	if cfg.Models.Active == "" {
		return errors.New("models.active must not be empty")
	}
	if cfg.Models.UnloadAfterMinutes < 0 {
		return errors.New("models.unload_after_minutes must be >= 0")
	}
	if cfg.Decoder.ChunkSizeSec <= 0 {
		return errors.New("decoder.chunk_size_sec must be positive")
	}
	if cfg.Decoder.ChunkOverlapSec < 0 || cfg.Decoder.ChunkOverlapSec >= cfg.Decoder.ChunkSizeSec {
		return errors.New("decoder.chunk_overlap_sec must be >= 0 and smaller than chunk_size_sec")
	}
	if cfg.Decoder.MaxTokensPerStep <= 0 {
		return errors.New("decoder.max_tokens_per_step must be >= 1")
	}
	if cfg.Decoder.MaxConsecutiveBlanks <= 0 {
		return errors.New("decoder.max_consecutive_blanks must be >= 1")
	}
	if cfg.Decoder.TimeoutSeconds <= 0 {
		return errors.New("decoder.timeout_seconds must be positive")
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when history is enabled")
		}
		if cfg.History.RecordingsDir == "" {
			return errors.New("history.recordings_dir must not be empty when history is enabled")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
	}
	if cfg.Post.Enabled {
		switch cfg.Post.Mode {
		case "mock", "ollama", "exec":
		default:
			return errors.New("post.mode must be one of mock|ollama|exec")
		}
		if cfg.Post.Mode == "ollama" && cfg.Post.Endpoint == "" {
			return errors.New("post.endpoint must be set when mode=ollama")
		}
		if cfg.Post.Mode == "exec" && cfg.Post.Command == "" {
			return errors.New("post.command must be set when mode=exec")
		}
		if cfg.Post.MaxTokens < 0 {
			return errors.New("post.max_tokens must be >= 0")
		}
	}
	return nil
}
