// =============================================================================
// 📦 WarmTransfer 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Transfer:  DefaultTransferConfig(),
		Relay:     DefaultRelayConfig(),
		Summary:   DefaultSummaryConfig(),
		LiveKit:   DefaultLiveKitConfig(),
		Twilio:    DefaultTwilioConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8000,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultTransferConfig 返回默认转接配置
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		SummaryTimeout:         10 * time.Second,
		CredentialTimeout:      5 * time.Second,
		StallTimeout:           0,
		Retention:              time.Hour,
		SweepInterval:          time.Minute,
		MaxConcurrentSummaries: 16,
	}
}

// DefaultRelayConfig 返回默认中继配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		SubscriberBuffer: 32,
		HistorySize:      64,
		WriteTimeout:     5 * time.Second,
		RoomIdleTTL:      time.Hour,
	}
}

// DefaultSummaryConfig 返回默认摘要配置
func DefaultSummaryConfig() SummaryConfig {
	return SummaryConfig{
		Provider:        "fallback",
		BaseURL:         "https://api.openai.com",
		Model:           "gpt-4o-mini",
		MaxPromptTokens: 3000,
		MaxTokens:       300,
		Temperature:     0.3,
		Timeout:         8 * time.Second,
		MaxRetries:      1,
		SpeechModel:     "tts-1",
		SpeechVoice:     "alloy",
	}
}

// DefaultLiveKitConfig 返回默认 LiveKit 配置
func DefaultLiveKitConfig() LiveKitConfig {
	return LiveKitConfig{
		TokenTTL: 6 * time.Hour,
		Timeout:  5 * time.Second,
	}
}

// DefaultTwilioConfig 返回默认 Twilio 配置
func DefaultTwilioConfig() TwilioConfig {
	return TwilioConfig{
		BaseURL: "https://api.twilio.com",
		Timeout: 10 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		PoolSize:      10,
		KeyPrefix:     "warmtransfer:",
		TranscriptTTL: 24 * time.Hour,
		MaxUtterances: 500,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "warmtransfer",
		SampleRate:   0.1,
	}
}
