package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

type DeviceConfig struct {
	Path      string `yaml:"path"`
	Coding    string `yaml:"coding"`
	ChunkSize int    `yaml:"chunk_size"`
	Probe     bool   `yaml:"probe"`
}

type SpeakupConfig struct {
	Language       string `yaml:"language"`
	DontInitTables bool   `yaml:"dont_init_tables"`
	SysfsRoot      string `yaml:"sysfs_root"`
	Characters     string `yaml:"characters"`
	Chartab        string `yaml:"chartab"`
}

type BackendConfig struct {
	Mode          string `yaml:"mode"` // ssip, nats, exec, mock
	Address       string `yaml:"address"`
	ClientName    string `yaml:"client_name"`
	Command       string `yaml:"command"`
	SubjectPrefix string `yaml:"subject_prefix"`
	InlineMarks   bool   `yaml:"inline_marks"`
	MarkQueue     int    `yaml:"mark_queue"`
	TimeoutMS     int    `yaml:"timeout_ms"`
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

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
	TraceExporter string `yaml:"trace_exporter"` // none, stdout, otlp
	Prometheus    bool   `yaml:"prometheus"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	PIDFile     string          `yaml:"pid_file"`
	Log         LogConfig       `yaml:"log"`
	Device      DeviceConfig    `yaml:"device"`
	Speakup     SpeakupConfig   `yaml:"speakup"`
	Backend     BackendConfig   `yaml:"backend"`
	Bus         BusConfig       `yaml:"bus"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Journal     JournalConfig   `yaml:"journal"`
}

func Default() Config {
	return Config{
		RuntimeName: "speechd-up",
		Environment: "production",
		PIDFile:     "/var/run/speechd-up.pid",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Device: DeviceConfig{
			Path:      "/dev/softsynth",
			Coding:    "iso-8859-1",
			ChunkSize: 1024,
		},
		Speakup: SpeakupConfig{
			SysfsRoot: "/sys/accessibility/speakup",
		},
		Backend: BackendConfig{
			Mode:          "ssip",
			ClientName:    "speakup:softsynth",
			SubjectPrefix: "speech",
			InlineMarks:   true,
			MarkQueue:     64,
			TimeoutMS:     2000,
		},
		Bus: BusConfig{
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    9560,
		},
		Telemetry: TelemetryConfig{
			OTLPInsecure:  true,
			TraceExporter: "none",
			Prometheus:    true,
		},
		Journal: JournalConfig{
			Path:          "/var/lib/speechd-up/journal.db",
			RetentionMode: "ephemeral",
			RetentionDays: 7,
			MaxSessions:   100,
		},
	}
}

// Read loads path over Default and applies SPEECHD_UP_* environment
// overrides. An empty path skips the file. The result is not validated.
func Read(path string) (Config, error) {
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
	return cfg, nil
}

// Load is Read followed by Validate.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SPEECHD_UP_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SPEECHD_UP_ENVIRONMENT")
	overrideString(&cfg.PIDFile, "SPEECHD_UP_PID_FILE")
	overrideString(&cfg.Log.Level, "SPEECHD_UP_LOG_LEVEL")
	overrideString(&cfg.Log.File, "SPEECHD_UP_LOG_FILE")
	overrideString(&cfg.Log.Format, "SPEECHD_UP_LOG_FORMAT")
	overrideString(&cfg.Device.Path, "SPEECHD_UP_DEVICE")
	overrideString(&cfg.Device.Coding, "SPEECHD_UP_CODING")
	overrideInt(&cfg.Device.ChunkSize, "SPEECHD_UP_CHUNK_SIZE")
	overrideBool(&cfg.Device.Probe, "SPEECHD_UP_PROBE")
	overrideString(&cfg.Speakup.Language, "SPEECHD_UP_LANGUAGE")
	overrideBool(&cfg.Speakup.DontInitTables, "SPEECHD_UP_DONT_INIT_TABLES")
	overrideString(&cfg.Speakup.SysfsRoot, "SPEECHD_UP_SYSFS_ROOT")
	overrideString(&cfg.Speakup.Characters, "SPEECHD_UP_CHARACTERS")
	overrideString(&cfg.Speakup.Chartab, "SPEECHD_UP_CHARTAB")
	overrideString(&cfg.Backend.Mode, "SPEECHD_UP_BACKEND_MODE")
	overrideString(&cfg.Backend.Address, "SPEECHD_UP_BACKEND_ADDRESS")
	overrideString(&cfg.Backend.ClientName, "SPEECHD_UP_BACKEND_CLIENT_NAME")
	overrideString(&cfg.Backend.Command, "SPEECHD_UP_BACKEND_COMMAND")
	overrideString(&cfg.Backend.SubjectPrefix, "SPEECHD_UP_BACKEND_SUBJECT_PREFIX")
	overrideBool(&cfg.Backend.InlineMarks, "SPEECHD_UP_BACKEND_INLINE_MARKS")
	overrideInt(&cfg.Backend.MarkQueue, "SPEECHD_UP_BACKEND_MARK_QUEUE")
	overrideInt(&cfg.Backend.TimeoutMS, "SPEECHD_UP_BACKEND_TIMEOUT_MS")
	overrideBool(&cfg.Bus.Embedded, "SPEECHD_UP_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SPEECHD_UP_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SPEECHD_UP_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SPEECHD_UP_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SPEECHD_UP_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SPEECHD_UP_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SPEECHD_UP_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SPEECHD_UP_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.HTTP.Enabled, "SPEECHD_UP_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "SPEECHD_UP_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SPEECHD_UP_HTTP_PORT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SPEECHD_UP_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SPEECHD_UP_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.TraceExporter, "SPEECHD_UP_TELEMETRY_TRACE_EXPORTER")
	overrideBool(&cfg.Telemetry.Prometheus, "SPEECHD_UP_TELEMETRY_PROMETHEUS")
	overrideString(&cfg.Journal.Path, "SPEECHD_UP_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "SPEECHD_UP_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "SPEECHD_UP_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "SPEECHD_UP_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "SPEECHD_UP_JOURNAL_VACUUM_ON_START")
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

// Validate checks a fully assembled configuration. It is run by Load and
// again after command-line flags are applied.
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.Device.Path == "" {
		return errors.New("device.path must not be empty")
	}
	if cfg.Device.Coding == "" {
		return errors.New("device.coding must not be empty")
	}
	if cfg.Device.ChunkSize <= 0 || cfg.Device.ChunkSize > 65536 {
		return errors.New("device.chunk_size must be between 1 and 65536")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		return errors.New("log.format must be one of json|text")
	}
	if cfg.Log.Level == "" {
		return errors.New("log.level must not be empty")
	}
	if !cfg.Device.Probe {
		switch cfg.Backend.Mode {
		case "ssip", "nats", "exec", "mock":
		default:
			return errors.New("backend.mode must be one of ssip|nats|exec|mock")
		}
	}
	if cfg.Backend.Mode == "exec" && cfg.Backend.Command == "" {
		return errors.New("backend.command must be set when mode=exec")
	}
	if cfg.Backend.Mode == "nats" {
		if cfg.Backend.SubjectPrefix == "" {
			return errors.New("backend.subject_prefix must be set when mode=nats")
		}
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Backend.MarkQueue <= 0 {
		return errors.New("backend.mark_queue must be >= 1")
	}
	if cfg.Backend.TimeoutMS <= 0 {
		return errors.New("backend.timeout_ms must be positive")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty")
		}
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	return nil
}
