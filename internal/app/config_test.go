package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.RBACCacheTTL)
	assert.Equal(t, 10000, cfg.RBACCacheMaxEntries)
	assert.Equal(t, 30, cfg.RBACMutationRate)
	assert.Equal(t, "0 3 * * *", cfg.RBACSweepCron)
	assert.Equal(t, 720*time.Hour, cfg.RBACSweepRetention)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, "inkboard", cfg.OTelServiceName)
	assert.Equal(t, ":9091", cfg.WorkerMetricsAddr)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("RBAC_CACHE_TTL", "45s")
	t.Setenv("RBAC_CACHE_MAX_ENTRIES", "50")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.RBACCacheTTL)
	assert.Equal(t, 50, cfg.RBACCacheMaxEntries)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"zero ttl":           {"RBAC_CACHE_TTL", "0s"},
		"negative entries":   {"RBAC_CACHE_MAX_ENTRIES", "-1"},
		"zero rate":          {"RBAC_MUTATION_RATE", "0"},
		"malformed ttl":      {"RBAC_CACHE_TTL", "five minutes"},
		"email without id":   {"BOOTSTRAP_ADMIN_EMAIL", "root@example.com"},
		"negative retention": {"RBAC_SWEEP_RETENTION", "-1h"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
