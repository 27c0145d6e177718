package main

import (
    "os"
    "path/filepath"
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestConfigLoadWritesDefaults(t *testing.T) {
    path := filepath.Join(t.TempDir(), "config.json")
    cm := NewConfigManager(path)
    require.NoError(t, cm.Load())

    cfg := cm.Get()
    assert.Equal(t, "GPIO6", cfg.LED.Pin)
    assert.Equal(t, 1000, cfg.LED.IntervalMS)
    assert.Equal(t, "ledlog.db", cfg.Store.Path)
    require.Len(t, cfg.Users, 1)
    assert.True(t, cfg.Users[0].Admin)

    _, err := os.Stat(path)
    require.NoError(t, err, "defaults are persisted")

    again := NewConfigManager(path)
    require.NoError(t, again.Load())
    assert.Equal(t, cfg, again.Get())
}

func TestConfigRejectsInvalidFile(t *testing.T) {
    path := filepath.Join(t.TempDir(), "config.json")
    require.NoError(t, os.WriteFile(path, []byte(`{"led":{"pin":"","interval_ms":1},"store":{"path":"x.db"},"log_file":"e.log"}`), 0600))

    err := NewConfigManager(path).Load()
    require.Error(t, err)
    assert.Contains(t, err.Error(), "invalid")

    require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0600))
    assert.Error(t, NewConfigManager(path).Load())
}

func TestConfigUpdateValidatesAndPersists(t *testing.T) {
    path := filepath.Join(t.TempDir(), "config.json")
    cm := NewConfigManager(path)
    require.NoError(t, cm.Load())

    require.NoError(t, cm.Update(func(c *Config) error {
        c.LED.IntervalMS = 250
        return nil
    }))
    assert.Equal(t, 250, cm.Get().LED.IntervalMS)

    err := cm.Update(func(c *Config) error {
        c.LED.IntervalMS = 1
        return nil
    })
    require.Error(t, err)
    assert.Equal(t, 250, cm.Get().LED.IntervalMS, "rejected update leaves config untouched")

    cfg, err := NewConfigManager(path).Reload()
    require.NoError(t, err)
    assert.Equal(t, 250, cfg.LED.IntervalMS)
}

func TestConfigMQTTRequiresBrokerWhenEnabled(t *testing.T) {
    cfg, err := defaultConfig()
    require.NoError(t, err)
    cfg.MQTT.Enabled = true
    cfg.MQTT.Broker = ""
    assert.Error(t, validate.Struct(cfg))

    cfg.MQTT.Broker = "localhost:1883"
    assert.NoError(t, validate.Struct(cfg))
}

func TestSetPasswordAndAuthenticate(t *testing.T) {
    cm := NewConfigManager(filepath.Join(t.TempDir(), "config.json"))
    require.NoError(t, cm.Load())

    _, err := cm.Authenticate("admin", "admin")
    require.NoError(t, err)

    require.NoError(t, cm.SetPassword("admin", "s3cret"))
    _, err = cm.Authenticate("admin", "admin")
    assert.Error(t, err)
    u, err := cm.Authenticate("admin", "s3cret")
    require.NoError(t, err)
    assert.True(t, u.Admin)

    require.NoError(t, cm.SetPassword("viewer", "pw"))
    u, err = cm.Authenticate("viewer", "pw")
    require.NoError(t, err)
    assert.False(t, u.Admin)

    _, err = cm.Authenticate("nobody", "pw")
    assert.ErrorIs(t, err, errInvalidCredentials)
    assert.Error(t, cm.SetPassword("", "pw"))

    assert.Error(t, cm.SetPassword("viewer", strings.Repeat("x", 73)))
    _, err = cm.Authenticate("viewer", "pw")
    assert.NoError(t, err, "a rejected password leaves the old one in place")
}
