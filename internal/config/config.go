package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr      string
	DBPath          string
	SessionBackend  string
	RedisURL        string
	SessionTTL      time.Duration
	VisionBackend   string
	GeminiAPIKey    string
	GeminiModel     string
	ClaudeAPIKey    string
	ClaudeModel     string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	OllamaHost      string
	OllamaModel     string
	PhotoBackend    string
	PhotoPath       string
	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3AccessKeyID   string
	S3SecretKey     string
	DefaultLanguage string
	LogLevel        string
	LogFile         string
}

// Load reads the configuration from the environment. Variables in a .env
// file in the working directory fill in anything not already set.
func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		DBPath:          getEnv("DB_PATH", "/data/siteoptic.db"),
		SessionBackend:  getEnv("SESSION_BACKEND", "sqlite"),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SessionTTL:      getDuration("SESSION_TTL", 24*time.Hour),
		VisionBackend:   getEnv("VISION_BACKEND", "gemini"),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		ClaudeAPIKey:    getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:     getEnv("CLAUDE_MODEL", "claude-3-5-sonnet-20241022"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:     getEnv("OLLAMA_MODEL", "llava"),
		PhotoBackend:    getEnv("PHOTO_BACKEND", "local"),
		PhotoPath:       getEnv("PHOTO_LOCAL_PATH", "/data/photos"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3Bucket:        getEnv("S3_BUCKET", "siteoptic"),
		S3AccessKeyID:   getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:     getEnv("S3_SECRET_ACCESS_KEY", ""),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "en"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

// getDuration parses key as a time.Duration; malformed values fall back to
// defaultVal rather than failing startup.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
