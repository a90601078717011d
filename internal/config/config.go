package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Telegram
	BotToken        string
	BotUsername     string // used to build t.me deep links
	AdminIDs        []int64
	ChannelID       int64 // principal public channel
	SearchChannelID int64 // search archive channel
	WebhookURL      string
	WebhookSecret   string
	APIBaseURL      string

	// Metadata
	TMDBAPIKey   string
	OMDBAPIKey   string
	MetadataLang string

	// Ingestion
	SessionIdleMinutes int           // Minutes before an untouched session is dropped (default: 30)
	UploadBatchSize    int           // Episodes copied per batch (default: 5)
	UploadItemDelay    time.Duration // Pause between two copies (default: 1.5s)
	UploadBatchDelay   time.Duration // Pause between two batches (default: 3s)
	CopyMaxAttempts    int           // Attempts per remote call (default: 3)

	// Server
	ServerPort string

	// Paths
	DatabaseFile string // $CONFIG_DIR/catalog.db
	NoiseFile    string // $CONFIG_DIR/noise.txt

	// Logging
	LogLevel  string
	LogFormat string // text or json
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	config, err := read()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadOffline loads configuration without requiring Telegram settings, for
// commands that only read the local catalog
func LoadOffline() (*Config, error) {
	return read()
}

func read() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = viper.ReadInConfig()

	viper.SetDefault("SESSION_IDLE_MINUTES", 30)
	viper.SetDefault("UPLOAD_BATCH_SIZE", 5)
	viper.SetDefault("UPLOAD_ITEM_DELAY_MS", 1500)
	viper.SetDefault("UPLOAD_BATCH_DELAY_MS", 3000)
	viper.SetDefault("COPY_MAX_ATTEMPTS", 3)
	viper.SetDefault("METADATA_LANG", "es-ES")
	viper.SetDefault("TELEGRAM_API_URL", "https://api.telegram.org")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")

	configDir := viper.GetString("CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "multimediabot")
	} else {
		absPath, err := filepath.Abs(configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
		}
		configDir = absPath
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	adminIDs, err := ParseIDList(viper.GetString("ADMIN_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}

	config := &Config{
		BotToken:        viper.GetString("BOT_TOKEN"),
		BotUsername:     strings.TrimPrefix(viper.GetString("BOT_USERNAME"), "@"),
		AdminIDs:        adminIDs,
		ChannelID:       viper.GetInt64("CHANNEL_ID"),
		SearchChannelID: viper.GetInt64("SEARCH_CHANNEL_ID"),
		WebhookURL:      viper.GetString("WEBHOOK_URL"),
		WebhookSecret:   viper.GetString("WEBHOOK_SECRET"),
		APIBaseURL:      strings.TrimRight(viper.GetString("TELEGRAM_API_URL"), "/"),

		TMDBAPIKey:   viper.GetString("TMDB_API_KEY"),
		OMDBAPIKey:   viper.GetString("OMDB_API_KEY"),
		MetadataLang: viper.GetString("METADATA_LANG"),

		SessionIdleMinutes: viper.GetInt("SESSION_IDLE_MINUTES"),
		UploadBatchSize:    viper.GetInt("UPLOAD_BATCH_SIZE"),
		UploadItemDelay:    time.Duration(viper.GetInt("UPLOAD_ITEM_DELAY_MS")) * time.Millisecond,
		UploadBatchDelay:   time.Duration(viper.GetInt("UPLOAD_BATCH_DELAY_MS")) * time.Millisecond,
		CopyMaxAttempts:    viper.GetInt("COPY_MAX_ATTEMPTS"),

		ServerPort: viper.GetString("SERVER_PORT"),

		DatabaseFile: filepath.Join(configDir, "catalog.db"),
		NoiseFile:    filepath.Join(configDir, "noise.txt"),

		LogLevel:  viper.GetString("LOG_LEVEL"),
		LogFormat: strings.ToLower(viper.GetString("LOG_FORMAT")),
	}

	return config, nil
}

// Validate checks required fields and sane bounds
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.BotUsername == "" {
		return fmt.Errorf("BOT_USERNAME is required")
	}
	if len(c.AdminIDs) == 0 {
		return fmt.Errorf("ADMIN_IDS is required")
	}
	if c.ChannelID == 0 {
		return fmt.Errorf("CHANNEL_ID is required")
	}
	if c.SearchChannelID == 0 {
		return fmt.Errorf("SEARCH_CHANNEL_ID is required")
	}
	if c.UploadBatchSize < 1 {
		return fmt.Errorf("UPLOAD_BATCH_SIZE must be at least 1, got %d", c.UploadBatchSize)
	}
	if c.CopyMaxAttempts < 1 {
		return fmt.Errorf("COPY_MAX_ATTEMPTS must be at least 1, got %d", c.CopyMaxAttempts)
	}
	if c.SessionIdleMinutes < 1 {
		return fmt.Errorf("SESSION_IDLE_MINUTES must be at least 1, got %d", c.SessionIdleMinutes)
	}
	return nil
}

// IsAdmin reports whether the user may run ingestion commands
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ParseIDList parses a comma or space separated list of chat ids
func ParseIDList(raw string) ([]int64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})

	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a numeric id", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
