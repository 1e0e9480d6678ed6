package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "dealflow-deals", cfg.Pipeline.Key)
	assert.Equal(t, "sample", cfg.Pipeline.Seed)
	assert.Equal(t, 15*time.Minute, cfg.Proposals.TTL)
	assert.Equal(t, 4*time.Second, cfg.Notifications.Display)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, []string{"deal.won"}, cfg.Notifications.Mail.Kinds)
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("pipeline:\n  seed: empty\nproposals:\n  ttl: 1m\n"))
	require.NoError(t, err)
	assert.Equal(t, "empty", cfg.Pipeline.Seed)
	assert.Equal(t, "dealflow-deals", cfg.Pipeline.Key)
	assert.Equal(t, time.Minute, cfg.Proposals.TTL)
	assert.Equal(t, 256, cfg.Proposals.History)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"seed":     "pipeline:\n  seed: random\n",
		"driver":   "storage:\n  driver: mysql\n",
		"postgres": "storage:\n  driver: postgres\n",
		"webhook":  "notifications:\n  webhooks:\n    - url: \"\"\n",
		"mail":     "notifications:\n  mail:\n    host: smtp.example.com\n",
		"ttl":      "proposals:\n  ttl: -1s\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault()), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}
