package services

import (
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	AI        AIConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Telemetry TelemetryConfig
	Interview InterviewConfig
	Upload    UploadConfig
}

type ServerConfig struct {
	Port            string
	Environment     string
	ShutdownTimeout time.Duration
	MetricsEnabled  bool
}

type LogConfig struct {
	Level string
}

type DatabaseConfig struct {
	URL          string
	Seed         bool
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type AIConfig struct {
	GeminiAPIKey      string
	Model             string
	Temperature       float32
	RequestTimeout    time.Duration
	MaxRetries        int
	RequestsPerMinute int

	// circuit breaker
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

type RateLimitConfig struct {
	Requests   int
	Window     time.Duration
	AIRequests int
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	SummaryTTL time.Duration
}

type StorageConfig struct {
	Driver      string // local or s3
	LocalDir    string
	S3Bucket    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
}

type QueueConfig struct {
	AMQPURL        string
	ResumeQueue    string
	EventsExchange string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

type InterviewConfig struct {
	DefaultQuestions int
	MaxQuestions     int
	AnswerTimeLimit  time.Duration
	IdleTimeout      time.Duration
}

type UploadConfig struct {
	MaxBytes int64
}

var configKeys = []struct {
	key, env string
	def      any
}{
	{"server.port", "SERVER_PORT", "8080"},
	{"server.environment", "ENVIRONMENT", "development"},
	{"server.shutdown_timeout", "SERVER_SHUTDOWN_TIMEOUT", "10s"},
	{"server.metrics_enabled", "METRICS_ENABLED", "true"},

	{"log.level", "LOG_LEVEL", "info"},

	{"database.url", "DATABASE_URL", ""},
	{"database.seed", "DATABASE_SEED", "true"},
	{"database.log_level", "DATABASE_LOG_LEVEL", "silent"},
	{"database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS", "10"},
	{"database.max_open_conns", "DATABASE_MAX_OPEN_CONNS", "100"},

	{"gemini.api_key", "GEMINI_API_KEY", ""},
	{"gemini.model", "GEMINI_MODEL", "gemini-2.5-flash"},
	{"gemini.temperature", "GEMINI_TEMPERATURE", "0.7"},
	{"gemini.request_timeout", "GEMINI_REQUEST_TIMEOUT", "30s"},
	{"gemini.max_retries", "GEMINI_MAX_RETRIES", "3"},
	{"gemini.requests_per_minute", "GEMINI_REQUESTS_PER_MINUTE", "60"},
	{"gemini.breaker_min_requests", "GEMINI_BREAKER_MIN_REQUESTS", "5"},
	{"gemini.breaker_failure_ratio", "GEMINI_BREAKER_FAILURE_RATIO", "0.6"},
	{"gemini.breaker_open_timeout", "GEMINI_BREAKER_OPEN_TIMEOUT", "30s"},

	{"jwt.secret", "JWT_SECRET", ""},

	{"websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS", ""},

	{"ratelimit.requests", "RATE_LIMIT_REQUESTS", "120"},
	{"ratelimit.window", "RATE_LIMIT_WINDOW", "1m"},
	{"ratelimit.ai_requests", "RATE_LIMIT_AI_REQUESTS", "20"},

	{"redis.addr", "REDIS_ADDR", ""},
	{"redis.password", "REDIS_PASSWORD", ""},
	{"redis.db", "REDIS_DB", "0"},
	{"redis.summary_ttl", "REDIS_SUMMARY_TTL", "1h"},

	{"storage.driver", "STORAGE_DRIVER", "local"},
	{"storage.local_dir", "STORAGE_LOCAL_DIR", "./data/uploads"},
	{"storage.s3_bucket", "S3_BUCKET", ""},
	{"storage.s3_endpoint", "S3_ENDPOINT", ""},
	{"storage.s3_region", "S3_REGION", "auto"},
	{"storage.s3_access_key", "S3_ACCESS_KEY_ID", ""},
	{"storage.s3_secret_key", "S3_SECRET_ACCESS_KEY", ""},

	{"queue.amqp_url", "AMQP_URL", ""},
	{"queue.resume_queue", "QUEUE_RESUME", "resume.summarize"},
	{"queue.events_exchange", "QUEUE_EVENTS_EXCHANGE", "mockprep.events"},

	{"telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", ""},
	{"telemetry.service_name", "OTEL_SERVICE_NAME", "mockprep"},

	{"interview.default_questions", "INTERVIEW_DEFAULT_QUESTIONS", "5"},
	{"interview.max_questions", "INTERVIEW_MAX_QUESTIONS", "20"},
	{"interview.answer_time_limit", "INTERVIEW_ANSWER_TIME_LIMIT", "2m"},
	{"interview.idle_timeout", "INTERVIEW_IDLE_TIMEOUT", "30m"},

	{"upload.max_bytes", "UPLOAD_MAX_BYTES", "5242880"},
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	for _, k := range configKeys {
		viper.SetDefault(k.key, k.def)
		viper.BindEnv(k.key, k.env)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:            viper.GetString("server.port"),
			Environment:     viper.GetString("server.environment"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
			MetricsEnabled:  viper.GetBool("server.metrics_enabled"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			Seed:         viper.GetBool("database.seed"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		AI: AIConfig{
			GeminiAPIKey:        viper.GetString("gemini.api_key"),
			Model:               viper.GetString("gemini.model"),
			Temperature:         float32(viper.GetFloat64("gemini.temperature")),
			RequestTimeout:      viper.GetDuration("gemini.request_timeout"),
			MaxRetries:          viper.GetInt("gemini.max_retries"),
			RequestsPerMinute:   viper.GetInt("gemini.requests_per_minute"),
			BreakerMinRequests:  viper.GetUint32("gemini.breaker_min_requests"),
			BreakerFailureRatio: viper.GetFloat64("gemini.breaker_failure_ratio"),
			BreakerOpenTimeout:  viper.GetDuration("gemini.breaker_open_timeout"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		RateLimit: RateLimitConfig{
			Requests:   viper.GetInt("ratelimit.requests"),
			Window:     viper.GetDuration("ratelimit.window"),
			AIRequests: viper.GetInt("ratelimit.ai_requests"),
		},
		Redis: RedisConfig{
			Addr:       viper.GetString("redis.addr"),
			Password:   viper.GetString("redis.password"),
			DB:         viper.GetInt("redis.db"),
			SummaryTTL: viper.GetDuration("redis.summary_ttl"),
		},
		Storage: StorageConfig{
			Driver:      viper.GetString("storage.driver"),
			LocalDir:    viper.GetString("storage.local_dir"),
			S3Bucket:    viper.GetString("storage.s3_bucket"),
			S3Endpoint:  viper.GetString("storage.s3_endpoint"),
			S3Region:    viper.GetString("storage.s3_region"),
			S3AccessKey: viper.GetString("storage.s3_access_key"),
			S3SecretKey: viper.GetString("storage.s3_secret_key"),
		},
		Queue: QueueConfig{
			AMQPURL:        viper.GetString("queue.amqp_url"),
			ResumeQueue:    viper.GetString("queue.resume_queue"),
			EventsExchange: viper.GetString("queue.events_exchange"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: viper.GetString("telemetry.otlp_endpoint"),
			ServiceName:  viper.GetString("telemetry.service_name"),
		},
		Interview: InterviewConfig{
			DefaultQuestions: viper.GetInt("interview.default_questions"),
			MaxQuestions:     viper.GetInt("interview.max_questions"),
			AnswerTimeLimit:  viper.GetDuration("interview.answer_time_limit"),
			IdleTimeout:      viper.GetDuration("interview.idle_timeout"),
		},
		Upload: UploadConfig{
			MaxBytes: viper.GetInt64("upload.max_bytes"),
		},
	}
}

// IsProduction reports whether cookies should be marked Secure.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}
