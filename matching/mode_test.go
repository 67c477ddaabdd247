package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"":             ModeAll,
		"all":          ModeAll,
		" Papers ":     ModePapers,
		"requirements": ModeRequirements,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("everything")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	mutations := map[string]func(*Config){
		"top-k":      func(c *Config) { c.CoarseTopK = 0 },
		"prefix":     func(c *Config) { c.RerankPrefix = -1 },
		"batch":      func(c *Config) { c.RerankBatchSize = 0 },
		"timeout":    func(c *Config) { c.StoreTimeout = 0 },
		"score span": func(c *Config) { c.DefaultScoreMin, c.DefaultScoreMax = 60, 50 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
