package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "test")

	cfg := LoadConfig()

	assert.Equal(t, EnvTest, cfg.Env)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 60*time.Minute, cfg.JWT.TTL)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "catalog-events", cfg.MQ.CatalogChannel)
	assert.True(t, cfg.DevAuthEnabled())
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigProductionDisablesDevAuth(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("LOG_JSON", "false")

	cfg := LoadConfig()

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.DevAuthEnabled())
	assert.True(t, cfg.LogJSON, "production always logs JSON")
}

func TestLoadConfigDevDisablesDevAuth(t *testing.T) {
	t.Setenv("ENV", "dev")

	cfg := LoadConfig()

	assert.False(t, cfg.DevAuthEnabled())
}

func TestGetEnvList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "csv", raw: "http://a, http://b ,", want: []string{"http://a", "http://b"}},
		{name: "json", raw: `["http://a", " http://b "]`, want: []string{"http://a", "http://b"}},
		{name: "broken json falls back to csv", raw: `[http://a`, want: []string{"[http://a"}},
		{name: "empty", raw: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CORS_ORIGINS", tt.raw)
			assert.Equal(t, tt.want, getEnvList("CORS_ORIGINS", []string{"default"}))
		})
	}
}

func TestGetEnvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	assert.Equal(t, 8080, getEnvInt("SERVER_PORT", 8080))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("DB_USE_SSL", "yes")
	assert.True(t, getEnvBool("DB_USE_SSL", false))

	t.Setenv("DB_USE_SSL", "maybe")
	assert.True(t, getEnvBool("DB_USE_SSL", true))
}
