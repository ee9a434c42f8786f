package config

import (
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Scan       ScanConfig       `yaml:"scan"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Semantic   SemanticConfig   `yaml:"semantic"`
	ML         MLConfig         `yaml:"ml"`
	Validator  ValidatorConfig  `yaml:"validator"`
	Fusion     FusionConfig     `yaml:"fusion"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Events     EventsConfig     `yaml:"events"`
	Policy     PolicyConfig     `yaml:"policy"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + strconv.Itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

type AuthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	FailOpen          bool `yaml:"fail_open"`
}

// ScanConfig controls the lexical layer, the results cache and layer fan-out.
type ScanConfig struct {
	Level             string              `yaml:"level"`
	Categories        []string            `yaml:"categories"`
	MaxLen            int                 `yaml:"max_len"`
	MaxParallelChecks int                 `yaml:"max_parallel_checks"`
	MaxParallelLayers int                 `yaml:"max_parallel_layers"`
	LayerTimeout      time.Duration       `yaml:"layer_timeout"`
	EnableCache       bool                `yaml:"enable_cache"`
	CacheTTL          time.Duration       `yaml:"cache_ttl"`
	CacheMaxEntries   int                 `yaml:"cache_max_entries"`
	RedactPreviews    bool                `yaml:"redact_previews"`
	Actions           map[string][]string `yaml:"actions"`
}

// SimilarityConfig selects the embedder: "hashing" runs offline, "ollama"
// asks an Ollama daemon at Endpoint to embed with Model.
type SimilarityConfig struct {
	Enabled   bool          `yaml:"enabled"`
	IndexPath string        `yaml:"index_path"`
	Threshold float64       `yaml:"threshold"`
	TopK      int           `yaml:"top_k"`
	Dim       int           `yaml:"dim"`
	Embedder  string        `yaml:"embedder"`
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

type RuntimeConfig struct {
	Enabled     bool          `yaml:"enabled"`
	StracePath  string        `yaml:"strace_path"`
	Interpreter string        `yaml:"interpreter"`
	Timeout     time.Duration `yaml:"timeout"`
	TempDir     string        `yaml:"temp_dir"`
}

// SemanticConfig selects the external safety classifier. Transport is one of
// "llm" (OpenAI-compatible chat API), "ollama" or "grpc".
type SemanticConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Transport      string               `yaml:"transport"`
	Endpoint       string               `yaml:"endpoint"`
	Model          string               `yaml:"model"`
	APIKey         string               `yaml:"api_key"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type MLConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ValidatorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Transport string        `yaml:"transport"`
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

// FusionConfig holds layer weights and label thresholds.
type FusionConfig struct {
	Weights           map[string]float64 `yaml:"weights"`
	IncludeSemantic   bool               `yaml:"include_semantic"`
	MaliciousAST      float64            `yaml:"malicious_ast"`
	RuntimeCutoff     float64            `yaml:"runtime_cutoff"`
	SuspiciousFused   float64            `yaml:"suspicious_fused"`
	SuspiciousSubproc float64            `yaml:"suspicious_subproc"`
}

type LedgerConfig struct {
	Store        string `yaml:"store"`
	CASRetries   int    `yaml:"cas_retries"`
	DefaultLimit int    `yaml:"default_limit"`
	MaxLimit     int    `yaml:"max_limit"`
}

type EventsConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout"`
}

type PolicyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type WorkflowConfig struct {
	StepPause time.Duration `yaml:"step_pause"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

// DefaultActions maps categories to recommended actions.
func DefaultActions() map[string][]string {
	return map[string][]string{
		"secrets":                {"redact:secrets", "block_if_output"},
		"unsafe_code":            {"warn", "require_review"},
		"jailbreak_attempt":      {"block"},
		"prompt_injection":       {"block"},
		"malicious_instructions": {"block"},
		"illegal_activities":     {"block"},
		"license_risk":           {"warn"},
		"obfuscation":            {"warn"},
	}
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "sentinel",
			User:            "sentinel",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		Auth: AuthConfig{
			Enabled:  true,
			CacheTTL: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			FailOpen:          true,
		},
		Scan: ScanConfig{
			Level: "moderate",
			Categories: []string{
				"jailbreak_attempt", "prompt_injection", "malicious_instructions",
				"secrets", "unsafe_code", "obfuscation", "license_risk",
			},
			MaxLen:            20000,
			MaxParallelChecks: 4,
			MaxParallelLayers: 4,
			LayerTimeout:      10 * time.Second,
			EnableCache:       true,
			CacheTTL:          time.Hour,
			CacheMaxEntries:   1000,
			RedactPreviews:    true,
			Actions:           DefaultActions(),
		},
		Similarity: SimilarityConfig{
			Enabled:   true,
			IndexPath: "data/malicious_index.json.zst",
			Threshold: 0.72,
			TopK:      3,
			Dim:       1024,
			Embedder:  "hashing",
			Timeout:   10 * time.Second,
		},
		Runtime: RuntimeConfig{
			Enabled:     false,
			StracePath:  "strace",
			Interpreter: "python3",
			Timeout:     5 * time.Second,
		},
		Semantic: SemanticConfig{
			Enabled:   false,
			Transport: "ollama",
			Endpoint:  "http://localhost:11434",
			Model:     "llama-guard3",
			Timeout:   10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		ML: MLConfig{
			Timeout: 3 * time.Second,
		},
		Validator: ValidatorConfig{
			Transport: "llm",
			Timeout:   30 * time.Second,
		},
		Fusion: FusionConfig{
			Weights: map[string]float64{
				"ast":              1.0,
				"subproc":          0.9,
				"embed":            0.8,
				"runtime_destruct": 1.2,
				"ml":               0.8,
				"semantic":         0.8,
			},
			MaliciousAST:      0.8,
			RuntimeCutoff:     0.7,
			SuspiciousFused:   0.45,
			SuspiciousSubproc: 0.8,
		},
		Ledger: LedgerConfig{
			Store:        "postgres",
			CASRetries:   3,
			DefaultLimit: 20,
			MaxLimit:     100,
		},
		Events: EventsConfig{
			URL:     "nats://localhost:4222",
			Subject: "sentinel.executions",
			Timeout: 2 * time.Second,
		},
		Policy: PolicyConfig{
			Enabled:           true,
			BundlePath:        "configs/policies",
			EvaluationTimeout: 100 * time.Millisecond,
		},
		Workflow: WorkflowConfig{
			StepPause: 0,
		},
	}
}
