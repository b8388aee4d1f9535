package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string

	BitrixWebhookBase string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	WhisperModel     string
	TranscribePrompt string
	LanguageHint     string

	AnthropicAPIKey string
	EvalModel       string
	RulesFile       string

	TelegramBotToken string
	TelegramChatID   string

	LimitLast         int
	MaxAudioBytes     int64
	MinAudioBytes     int64
	TranscriptCharCap int
	MinDurationSec    int
	OnlyInbound       bool
	PollInterval      time.Duration
	HTTPTimeout       time.Duration

	WeeklyWeekday   time.Weekday
	WeeklyHour      int
	WeeklyTimezone  string
	RetentionDays   int
	WeeklyTopN      int
	ProcessedWindow int

	StateFile       string
	WeeklyStateFile string
	CallLogFile     string

	DatabaseURL string
	NatsURL     string
	NatsToken   string
}

// LoadDotEnv reads KEY=VALUE pairs from path into the environment.
// Variables that are already set are left untouched.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

func Load() Config {
	return Config{
		Port:     envInt("PORT", 8080),
		LogLevel: envStr("LOG_LEVEL", "info"),

		BitrixWebhookBase: normalizeWebhook(envStr("BITRIX_WEBHOOK_BASE", "")),

		OpenAIAPIKey:     envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    envStr("OPENAI_BASE_URL", "https://api.openai.com"),
		WhisperModel:     envStr("WHISPER_MODEL", "whisper-1"),
		TranscribePrompt: envStr("TRANSCRIBE_PROMPT", ""),
		LanguageHint:     strings.ToLower(strings.TrimSpace(envStr("LANGUAGE_HINT", "uk"))),

		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		EvalModel:       envStr("EVAL_MODEL", "claude-sonnet-4-20250514"),
		RulesFile:       envStr("RULES_FILE", ""),

		TelegramBotToken: envStr("TG_BOT_TOKEN", ""),
		TelegramChatID:   envStr("TG_CHAT_ID", ""),

		LimitLast:         envInt("LIMIT_LAST", 5),
		MaxAudioBytes:     int64(envInt("MAX_AUDIO_BYTES", 25*1024*1024)),
		MinAudioBytes:     int64(envInt("MIN_AUDIO_BYTES", 2048)),
		TranscriptCharCap: envInt("TRANSCRIPT_CHAR_CAP", 12000),
		MinDurationSec:    envInt("MIN_DURATION_SEC", 10),
		OnlyInbound:       envBool("ONLY_INBOUND", false),
		PollInterval:      envDuration("POLL_INTERVAL", 3*time.Minute),
		HTTPTimeout:       envDuration("HTTP_TIMEOUT", 60*time.Second),

		WeeklyWeekday:   time.Weekday(envInt("WEEKLY_WEEKDAY", int(time.Monday)) % 7),
		WeeklyHour:      envInt("WEEKLY_HOUR", 9),
		WeeklyTimezone:  envStr("WEEKLY_TZ", "Europe/Kyiv"),
		RetentionDays:   envInt("RETENTION_DAYS", 90),
		WeeklyTopN:      envInt("WEEKLY_TOP_N", 5),
		ProcessedWindow: envInt("PROCESSED_WINDOW", 500),

		StateFile:       envStr("STATE_FILE", "b24_monitor_state.json"),
		WeeklyStateFile: envStr("WEEKLY_STATE_FILE", "weekly_state.json"),
		CallLogFile:     envStr("CALL_LOG_FILE", "calls.jsonl"),

		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
	}
}

// Validate lists the problems that prevent a poll tick from running.
// The health server keeps running regardless.
func (c Config) Validate() []string {
	var problems []string
	required := []struct {
		name  string
		value string
	}{
		{"BITRIX_WEBHOOK_BASE", c.BitrixWebhookBase},
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
		{"ANTHROPIC_API_KEY", c.AnthropicAPIKey},
		{"TG_BOT_TOKEN", c.TelegramBotToken},
		{"TG_CHAT_ID", c.TelegramChatID},
	}
	for _, r := range required {
		if r.value == "" {
			problems = append(problems, "missing "+r.name)
		}
	}
	if strings.HasPrefix(c.TelegramBotToken, "sk-") {
		problems = append(problems, "TG_BOT_TOKEN looks like an OpenAI key, expected a BotFather token")
	}
	if c.WeeklyHour < 0 || c.WeeklyHour > 23 {
		problems = append(problems, fmt.Sprintf("WEEKLY_HOUR out of range: %d", c.WeeklyHour))
	}
	if c.MinAudioBytes >= c.MaxAudioBytes {
		problems = append(problems, "MIN_AUDIO_BYTES must be below MAX_AUDIO_BYTES")
	}
	return problems
}

// Location resolves WeeklyTimezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.WeeklyTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func normalizeWebhook(base string) string {
	if base != "" && !strings.HasSuffix(base, "/") {
		return base + "/"
	}
	return base
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
