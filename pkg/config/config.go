package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	Extraction ExtractionConfig
	Grading    GradingConfig
	Analysis   AnalysisConfig
	Prompt     PromptConfig
	Storage    StorageConfig
	Redis      RedisConfig
	Cache      CacheConfig
	RateLimit  RateLimitConfig
	Metrics    MetricsConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type AuthConfig struct {
	Key                  string
	Header               string
	ProtectImageAnalysis bool
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	Temperature float32
	TimeoutSec  int
}

type GeminiConfig struct {
	APIKey     string
	Model      string
	TimeoutSec int
}

type ExtractionConfig struct {
	Pdftoppm      string
	Tesseract     string
	TesseractLang string
	DPI           int
	TempDir       string
}

type GradingConfig struct {
	MaxImagePages     int
	MaxOutputTokens   int
	FallbackScore     float64
	DocumentCharLimit int
	FallbackCharLimit int
}

type AnalysisConfig struct {
	MaxOutputTokens   int
	DocumentCharLimit int
	MaxImagePages     int
}

type PromptConfig struct {
	Language string
}

type StorageConfig struct {
	RubricsFile string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled           bool
	DescriptionTTLSec int
}

type RateLimitConfig struct {
	Enabled              bool
	MaxRequestsPerMinute int
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml (if present) and DOC_GRADER_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/doc-grader")

	v.SetEnvPrefix("DOC_GRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// bindLegacyEnv keeps the environment names used by existing deployments working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"auth.key":            {"DOC_GRADER_AUTH_KEY", "AUTH_KEY"},
		"openai.apiKey":       {"DOC_GRADER_OPENAI_APIKEY", "OPENAI_API_KEY"},
		"gemini.apiKey":       {"DOC_GRADER_GEMINI_APIKEY", "GEMINI_API_KEY"},
		"storage.rubricsFile": {"DOC_GRADER_STORAGE_RUBRICSFILE", "RUBRICS_FILE"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 60)
	v.SetDefault("server.writeTimeout", 300)
	v.SetDefault("server.bodyLimit", 20*1024*1024)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("auth.header", "auth-key")
	v.SetDefault("auth.protectImageAnalysis", true)

	v.SetDefault("openai.baseURL", "")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.visionModel", "gpt-4o")
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.timeoutSec", 180)

	v.SetDefault("gemini.model", "gemini-1.5-pro")
	v.SetDefault("gemini.timeoutSec", 120)

	v.SetDefault("extraction.pdftoppm", "pdftoppm")
	v.SetDefault("extraction.tesseract", "tesseract")
	v.SetDefault("extraction.tesseractLang", "chi_tra+eng")
	v.SetDefault("extraction.dpi", 200)
	v.SetDefault("extraction.tempDir", "")

	v.SetDefault("grading.maxImagePages", 3)
	v.SetDefault("grading.maxOutputTokens", 8000)
	v.SetDefault("grading.fallbackScore", 75)
	v.SetDefault("grading.documentCharLimit", 15000)
	v.SetDefault("grading.fallbackCharLimit", 3000)

	v.SetDefault("analysis.maxOutputTokens", 2000)
	v.SetDefault("analysis.documentCharLimit", 15000)
	v.SetDefault("analysis.maxImagePages", 0)

	v.SetDefault("prompt.language", "Traditional Chinese")

	v.SetDefault("storage.rubricsFile", "rubrics.json")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.descriptionTTLSec", 86400)

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.maxRequestsPerMinute", 30)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
