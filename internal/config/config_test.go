package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		BotToken:           "123:abc",
		BotUsername:        "mmbot",
		AdminIDs:           []int64{1},
		ChannelID:          -100,
		SearchChannelID:    -200,
		UploadBatchSize:    5,
		CopyMaxAttempts:    3,
		SessionIdleMinutes: 30,
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("BOT_USERNAME", "@mmbot")
	t.Setenv("ADMIN_IDS", "1, 2;3")
	t.Setenv("CHANNEL_ID", "-1001")
	t.Setenv("SEARCH_CHANNEL_ID", "-1002")
	t.Setenv("UPLOAD_ITEM_DELAY_MS", "250")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mmbot", cfg.BotUsername)
	assert.Equal(t, []int64{1, 2, 3}, cfg.AdminIDs)
	assert.Equal(t, int64(-1001), cfg.ChannelID)
	assert.Equal(t, 250*time.Millisecond, cfg.UploadItemDelay)
	assert.Equal(t, 5, cfg.UploadBatchSize)
	assert.Equal(t, filepath.Join(dir, "catalog.db"), cfg.DatabaseFile)
	assert.Equal(t, filepath.Join(dir, "noise.txt"), cfg.NoiseFile)
}

func TestLoadOffline_SkipsTelegramSettings(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("BOT_TOKEN", "")

	cfg, err := LoadOffline()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.DatabaseFile)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.BotToken = "" }},
		{"missing username", func(c *Config) { c.BotUsername = "" }},
		{"no admins", func(c *Config) { c.AdminIDs = nil }},
		{"no channel", func(c *Config) { c.ChannelID = 0 }},
		{"no archive", func(c *Config) { c.SearchChannelID = 0 }},
		{"zero batch", func(c *Config) { c.UploadBatchSize = 0 }},
		{"zero attempts", func(c *Config) { c.CopyMaxAttempts = 0 }},
		{"zero idle", func(c *Config) { c.SessionIdleMinutes = 0 }},
	}

	require.NoError(t, validConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIsAdmin(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.IsAdmin(1))
	assert.False(t, cfg.IsAdmin(2))
}

func TestParseIDList(t *testing.T) {
	ids, err := ParseIDList("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = ParseIDList("1,abc")
	assert.Error(t, err)
}
