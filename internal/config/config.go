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
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // json, text
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusPath string `yaml:"prometheus_path"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type ViewerConfig struct {
	Path           string   `yaml:"path"`
	ServeRoot      bool     `yaml:"serve_root"`
	SendBuffer     int      `yaml:"send_buffer"`
	WriteTimeoutMS int      `yaml:"write_timeout_ms"`
	PingIntervalMS int      `yaml:"ping_interval_ms"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Viewer      ViewerConfig    `yaml:"viewer"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Capture     CaptureConfig   `yaml:"capture"`
	STT         STTConfig       `yaml:"stt"`
	LLM         LLMConfig       `yaml:"llm"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Session     SessionConfig   `yaml:"session"`
	Journal     JournalConfig   `yaml:"journal"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	AcceptCommands bool     `yaml:"accept_commands"`
}

type CaptureConfig struct {
	Mode           string  `yaml:"mode"` // exec, wav, portaudio, mock
	Command        string  `yaml:"command"`
	SampleRate     int     `yaml:"sample_rate"`
	Channels       int     `yaml:"channels"`
	Threshold      float64 `yaml:"threshold"`
	SilenceSeconds float64 `yaml:"silence_seconds"`
	WavPath        string  `yaml:"wav_path"`
	ChunkMS        int     `yaml:"chunk_ms"`
	Loop           bool    `yaml:"loop"`
}

type STTConfig struct {
	Mode            string `yaml:"mode"` // google, mock
	Language        string `yaml:"language"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	InterimResults  bool   `yaml:"interim_results"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
	Model           string `yaml:"model"`
	Punctuation     bool   `yaml:"punctuation"`
}

type LLMConfig struct {
	Mode             string  `yaml:"mode"` // gemini, ollama, exec, mock
	APIKey           string  `yaml:"api_key"`
	Model            string  `yaml:"model"`
	Endpoint         string  `yaml:"endpoint"`
	Command          string  `yaml:"command"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
	TopP             float64 `yaml:"top_p"`
	TopK             int     `yaml:"top_k"`
	ResponseMIMEType string  `yaml:"response_mime_type"`
	KeepHistory      bool    `yaml:"keep_history"`
	TimeoutMS        int     `yaml:"timeout_ms"`
}

type PipelineConfig struct {
	QueueSize          int    `yaml:"queue_size"`
	PromptFile         string `yaml:"prompt_file"`
	MaxTranscriptChars int    `yaml:"max_transcript_chars"`
}

type SessionConfig struct {
	ResetOnStart bool `yaml:"reset_on_start"`
}

type JournalConfig struct {
	Mode      string `yaml:"mode"` // off, memory
	MaxEvents int    `yaml:"max_events"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-scribe",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8088,
		},
		Viewer: ViewerConfig{
			Path:           "/ws",
			ServeRoot:      true,
			SendBuffer:     64,
			WriteTimeoutMS: 5000,
			PingIntervalMS: 30000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			OTLPInsecure:   true,
			PrometheusPath: "/metrics",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			AcceptCommands: true,
		},
		Capture: CaptureConfig{
			Mode:           "exec",
			Command:        "rec",
			SampleRate:     16000,
			Channels:       1,
			Threshold:      0,
			SilenceSeconds: 10,
			ChunkMS:        100,
		},
		STT: STTConfig{
			Mode:           "google",
			Language:       "en-US",
			SampleRate:     16000,
			Channels:       1,
			InterimResults: false,
		},
		LLM: LLMConfig{
			Mode:             "gemini",
			Model:            "gemini-1.5-flash",
			Endpoint:         "http://localhost:11434",
			MaxTokens:        8192,
			Temperature:      1.0,
			TopP:             0.95,
			TopK:             64,
			ResponseMIMEType: "text/plain",
			KeepHistory:      true,
			TimeoutMS:        60000,
		},
		Pipeline: PipelineConfig{
			QueueSize: 32,
		},
		Journal: JournalConfig{
			Mode:      "off",
			MaxEvents: 1000,
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
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Viewer.Path, "SCRIBE_VIEWER_PATH")
	overrideBool(&cfg.Viewer.ServeRoot, "SCRIBE_VIEWER_SERVE_ROOT")
	overrideInt(&cfg.Viewer.SendBuffer, "SCRIBE_VIEWER_SEND_BUFFER")
	overrideInt(&cfg.Viewer.WriteTimeoutMS, "SCRIBE_VIEWER_WRITE_TIMEOUT_MS")
	overrideInt(&cfg.Viewer.PingIntervalMS, "SCRIBE_VIEWER_PING_INTERVAL_MS")
	overrideStringSlice(&cfg.Viewer.AllowedOrigins, "SCRIBE_VIEWER_ALLOWED_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "SCRIBE_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "SCRIBE_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusPath, "SCRIBE_TELEMETRY_PROMETHEUS_PATH")
	overrideBool(&cfg.Bus.Enabled, "SCRIBE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SCRIBE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Bus.AcceptCommands, "SCRIBE_BUS_ACCEPT_COMMANDS")
	overrideString(&cfg.Capture.Mode, "SCRIBE_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "SCRIBE_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "SCRIBE_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "SCRIBE_CAPTURE_CHANNELS")
	overrideFloat(&cfg.Capture.Threshold, "SCRIBE_CAPTURE_THRESHOLD")
	overrideFloat(&cfg.Capture.SilenceSeconds, "SCRIBE_CAPTURE_SILENCE_SECONDS")
	overrideString(&cfg.Capture.WavPath, "SCRIBE_CAPTURE_WAV_PATH")
	overrideInt(&cfg.Capture.ChunkMS, "SCRIBE_CAPTURE_CHUNK_MS")
	overrideBool(&cfg.Capture.Loop, "SCRIBE_CAPTURE_LOOP")
	overrideString(&cfg.STT.Mode, "SCRIBE_STT_MODE")
	overrideString(&cfg.STT.Language, "SCRIBE_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "SCRIBE_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "SCRIBE_STT_CHANNELS")
	overrideBool(&cfg.STT.InterimResults, "SCRIBE_STT_INTERIM_RESULTS")
	overrideString(&cfg.STT.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	overrideString(&cfg.STT.CredentialsFile, "SCRIBE_STT_CREDENTIALS_FILE")
	overrideString(&cfg.STT.Endpoint, "SCRIBE_STT_ENDPOINT")
	overrideString(&cfg.STT.Model, "SCRIBE_STT_MODEL")
	overrideBool(&cfg.STT.Punctuation, "SCRIBE_STT_PUNCTUATION")
	overrideString(&cfg.LLM.Mode, "SCRIBE_LLM_MODE")
	overrideString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	overrideString(&cfg.LLM.APIKey, "SCRIBE_LLM_API_KEY")
	overrideString(&cfg.LLM.Model, "SCRIBE_LLM_MODEL")
	overrideString(&cfg.LLM.Endpoint, "SCRIBE_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "SCRIBE_LLM_COMMAND")
	overrideInt(&cfg.LLM.MaxTokens, "SCRIBE_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "SCRIBE_LLM_TEMPERATURE")
	overrideFloat(&cfg.LLM.TopP, "SCRIBE_LLM_TOP_P")
	overrideInt(&cfg.LLM.TopK, "SCRIBE_LLM_TOP_K")
	overrideString(&cfg.LLM.ResponseMIMEType, "SCRIBE_LLM_RESPONSE_MIME_TYPE")
	overrideBool(&cfg.LLM.KeepHistory, "SCRIBE_LLM_KEEP_HISTORY")
	overrideInt(&cfg.LLM.TimeoutMS, "SCRIBE_LLM_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.QueueSize, "SCRIBE_PIPELINE_QUEUE_SIZE")
	overrideString(&cfg.Pipeline.PromptFile, "SCRIBE_PIPELINE_PROMPT_FILE")
	overrideInt(&cfg.Pipeline.MaxTranscriptChars, "SCRIBE_PIPELINE_MAX_TRANSCRIPT_CHARS")
	overrideBool(&cfg.Session.ResetOnStart, "SCRIBE_SESSION_RESET_ON_START")
	overrideString(&cfg.Journal.Mode, "SCRIBE_JOURNAL_MODE")
	overrideInt(&cfg.Journal.MaxEvents, "SCRIBE_JOURNAL_MAX_EVENTS")
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
	if !strings.HasPrefix(cfg.Viewer.Path, "/") {
		return errors.New("viewer.path must start with /")
	}
	if cfg.Viewer.SendBuffer <= 0 {
		return errors.New("viewer.send_buffer must be positive")
	}
	if cfg.Viewer.WriteTimeoutMS <= 0 {
		return errors.New("viewer.write_timeout_ms must be positive")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Telemetry.PrometheusPath != "" && !strings.HasPrefix(cfg.Telemetry.PrometheusPath, "/") {
		return errors.New("telemetry.prometheus_path must start with /")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Capture.Mode {
	case "exec":
		if cfg.Capture.Command == "" {
			return errors.New("capture.command must be set when mode=exec")
		}
	case "wav":
		if cfg.Capture.WavPath == "" {
			return errors.New("capture.wav_path must be set when mode=wav")
		}
	case "portaudio", "mock":
	default:
		return errors.New("capture.mode must be one of exec|wav|portaudio|mock")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.ChunkMS <= 0 {
		return errors.New("capture.chunk_ms must be positive")
	}
	switch cfg.STT.Mode {
	case "google", "mock":
	default:
		return errors.New("stt.mode must be one of google|mock")
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if cfg.STT.SampleRate != cfg.Capture.SampleRate {
		return errors.New("stt.sample_rate must match capture.sample_rate")
	}
	if cfg.STT.Language == "" {
		return errors.New("stt.language must not be empty")
	}
	switch cfg.LLM.Mode {
	case "gemini":
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key (or GEMINI_API_KEY) must be set when mode=gemini")
		}
	case "ollama":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("llm.mode must be one of gemini|ollama|exec|mock")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.TimeoutMS <= 0 {
		return errors.New("llm.timeout_ms must be positive")
	}
	if cfg.Pipeline.QueueSize <= 0 {
		return errors.New("pipeline.queue_size must be >= 1")
	}
	if cfg.Pipeline.MaxTranscriptChars < 0 {
		return errors.New("pipeline.max_transcript_chars must be >= 0")
	}
	switch cfg.Journal.Mode {
	case "off", "memory":
	default:
		return errors.New("journal.mode must be one of off|memory")
	}
	if cfg.Journal.Mode == "memory" && cfg.Journal.MaxEvents <= 0 {
		return errors.New("journal.max_events must be positive when mode=memory")
	}
	return nil
}
