// =============================================================================
// 📦 WarmTransfer 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("WARMTRANSFER").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是服务的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Transfer  TransferConfig  `yaml:"transfer" env:"TRANSFER"`
	Relay     RelayConfig     `yaml:"relay" env:"RELAY"`
	Summary   SummaryConfig   `yaml:"summary" env:"SUMMARY"`
	LiveKit   LiveKitConfig   `yaml:"livekit" env:"LIVEKIT"`
	Twilio    TwilioConfig    `yaml:"twilio" env:"TWILIO"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（WebSocket 连接不受此限制）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// CORS 允许的来源，为空时不设置
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 每 IP 限流
	RateLimitRPS   int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// API Key 列表，为空时不鉴权
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 是否允许通过 query 参数传递 API Key（浏览器 WebSocket 需要）
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
}

// TransferConfig 转接编排配置
type TransferConfig struct {
	// 摘要生成超时，超时后使用兜底摘要
	SummaryTimeout time.Duration `yaml:"summary_timeout" env:"SUMMARY_TIMEOUT"`
	// 房间创建与凭证签发超时
	CredentialTimeout time.Duration `yaml:"credential_timeout" env:"CREDENTIAL_TIMEOUT"`
	// 停滞在 summary_ready/delivered 的转接超过该时长标记为失败，0 表示关闭
	StallTimeout time.Duration `yaml:"stall_timeout" env:"STALL_TIMEOUT"`
	// 终态转接保留时长
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
	// 清理周期
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// 并发摘要上限
	MaxConcurrentSummaries int `yaml:"max_concurrent_summaries" env:"MAX_CONCURRENT_SUMMARIES"`
}

// RelayConfig 通知中继配置
type RelayConfig struct {
	// 每个订阅者的缓冲区大小
	SubscriberBuffer int `yaml:"subscriber_buffer" env:"SUBSCRIBER_BUFFER"`
	// 每个房间保留的事件数，用于轮询与重连补发
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE"`
	// WebSocket 写超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 无订阅者的房间日志空闲多久后回收
	RoomIdleTTL time.Duration `yaml:"room_idle_ttl" env:"ROOM_IDLE_TTL"`
}

// SummaryConfig 摘要生成配置
type SummaryConfig struct {
	// 提供方: openai（兼容接口）或 fallback
	Provider string `yaml:"provider" env:"PROVIDER"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL"`
	Model    string `yaml:"model" env:"MODEL"`
	// 对话记录的 Token 预算
	MaxPromptTokens int           `yaml:"max_prompt_tokens" env:"MAX_PROMPT_TOKENS"`
	MaxTokens       int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature     float64       `yaml:"temperature" env:"TEMPERATURE"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries      int           `yaml:"max_retries" env:"MAX_RETRIES"`
	// 语音合成模型与默认音色，API Key 为空时语音接口返回 501
	SpeechModel string `yaml:"speech_model" env:"SPEECH_MODEL"`
	SpeechVoice string `yaml:"speech_voice" env:"SPEECH_VOICE"`
}

// LiveKitConfig 房间提供方配置，URL 为空时使用本地房间提供方
type LiveKitConfig struct {
	URL       string        `yaml:"url" env:"URL"`
	APIKey    string        `yaml:"api_key" env:"API_KEY"`
	APISecret string        `yaml:"api_secret" env:"API_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Enabled reports whether a LiveKit server is configured.
func (c LiveKitConfig) Enabled() bool {
	return c.URL != "" && c.APIKey != "" && c.APISecret != ""
}

// TwilioConfig 电话外呼配置，AccountSID 为空时关闭
type TwilioConfig struct {
	AccountSID  string        `yaml:"account_sid" env:"ACCOUNT_SID"`
	AuthToken   string        `yaml:"auth_token" env:"AUTH_TOKEN"`
	FromNumber  string        `yaml:"from_number" env:"FROM_NUMBER"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	CallbackURL string        `yaml:"callback_url" env:"CALLBACK_URL"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Enabled reports whether telephony is configured.
func (c TwilioConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

// RedisConfig Redis 配置，用于对话记录存储；Addr 为空时使用内存存储
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`
	// 对话记录 key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 对话记录过期时间
	TranscriptTTL time.Duration `yaml:"transcript_ttl" env:"TRANSCRIPT_TTL"`
	// 每个房间保留的最大发言数
	MaxUtterances int `yaml:"max_utterances" env:"MAX_UTTERANCES"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "WARMTRANSFER",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置，汇总所有错误
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Transfer.SummaryTimeout <= 0 {
		errs = append(errs, "transfer.summary_timeout must be positive")
	}
	if c.Transfer.CredentialTimeout <= 0 {
		errs = append(errs, "transfer.credential_timeout must be positive")
	}
	if c.Transfer.StallTimeout < 0 {
		errs = append(errs, "transfer.stall_timeout must not be negative")
	}
	if c.Transfer.SweepInterval <= 0 {
		errs = append(errs, "transfer.sweep_interval must be positive")
	}
	if c.Relay.SubscriberBuffer <= 0 {
		errs = append(errs, "relay.subscriber_buffer must be positive")
	}
	if c.Relay.HistorySize <= 0 {
		errs = append(errs, "relay.history_size must be positive")
	}
	switch c.Summary.Provider {
	case "fallback":
	case "openai":
		if c.Summary.APIKey == "" {
			errs = append(errs, "summary.api_key is required for provider openai")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown summary provider %q", c.Summary.Provider))
	}
	if c.LiveKit.URL != "" && (c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "") {
		errs = append(errs, "livekit.api_key and livekit.api_secret are required when livekit.url is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
