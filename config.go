package main

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "sync"

    "github.com/go-playground/validator/v10"
)

// defaultConfigPath is the filename used when --config is not given.
const defaultConfigPath = "config.json"

var validate = validator.New()

// ConfigManager wraps the loaded configuration and a mutex for concurrent access.
// When modifying configuration through the HTTP API, always go through Update
// so the change is persisted.
type ConfigManager struct {
    path   string
    mu     sync.RWMutex
    cfg    Config
    loaded bool
}

// NewConfigManager returns a manager for the file at path.  Nothing is read
// until Load is called.
func NewConfigManager(path string) *ConfigManager {
    if path == "" {
        path = defaultConfigPath
    }
    return &ConfigManager{path: path}
}

// Path returns the file backing this manager.
func (cm *ConfigManager) Path() string { return cm.path }

// defaultConfig is written on first start.  The admin password is "admin";
// change it with `ledlog passwd admin <password>`.
func defaultConfig() (Config, error) {
    hash, err := hashPassword("admin")
    if err != nil {
        return Config{}, err
    }
    return Config{
        HTTPPort: 8443,
        LogFile:  "events.log",
        LED: LEDConfig{
            Pin:        "GPIO6",
            IntervalMS: 1000,
        },
        Store: StoreConfig{
            Path:                    "ledlog.db",
            ResetOnMigrationFailure: true,
        },
        MQTT: MQTTConfig{
            Topic:     "ledlog/measurements",
            ClientID:  "ledlog",
            TimeoutMS: 5000,
        },
        Users: []User{
            {Username: "admin", PasswordHash: hash, Admin: true},
        },
    }, nil
}

// Load reads configuration from disk.  If the file does not exist, the
// default configuration is persisted and used.
func (cm *ConfigManager) Load() error {
    cm.mu.Lock()
    if cm.loaded {
        cm.mu.Unlock()
        return nil
    }
    cfg, err := readConfig(cm.path)
    if err != nil {
        if errors.Is(err, os.ErrNotExist) {
            if cm.cfg, err = defaultConfig(); err != nil {
                cm.mu.Unlock()
                return err
            }
            cm.loaded = true
            // Save takes the read lock.
            cm.mu.Unlock()
            return cm.Save()
        }
        cm.mu.Unlock()
        return err
    }
    cm.cfg = cfg
    cm.loaded = true
    cm.mu.Unlock()
    return nil
}

// Reload re-reads the file even if it was loaded before.  The in-memory
// configuration is left untouched when the new file is invalid.
func (cm *ConfigManager) Reload() (Config, error) {
    cfg, err := readConfig(cm.path)
    if err != nil {
        return Config{}, err
    }
    cm.mu.Lock()
    cm.cfg = cfg
    cm.loaded = true
    cm.mu.Unlock()
    return cfg, nil
}

func readConfig(path string) (Config, error) {
    data, err := os.ReadFile(path)
    if err != nil {
        return Config{}, fmt.Errorf("unable to read config: %w", err)
    }
    var cfg Config
    if err := json.Unmarshal(data, &cfg); err != nil {
        return Config{}, fmt.Errorf("invalid %s: %w", path, err)
    }
    if err := validate.Struct(cfg); err != nil {
        return Config{}, fmt.Errorf("invalid %s: %w", path, err)
    }
    return cfg, nil
}

// Save writes the configuration to disk via a temporary file and rename.
func (cm *ConfigManager) Save() error {
    cm.mu.RLock()
    defer cm.mu.RUnlock()

    bytes, err := json.MarshalIndent(cm.cfg, "", "  ")
    if err != nil {
        return err
    }
    tmpPath := cm.path + ".tmp"
    if err := os.WriteFile(tmpPath, bytes, 0600); err != nil {
        return err
    }
    return os.Rename(tmpPath, cm.path)
}

// Get returns a copy of the current configuration.  Callers must treat the
// returned Config as immutable.
func (cm *ConfigManager) Get() Config {
    cm.mu.RLock()
    defer cm.mu.RUnlock()
    return cm.cfg
}

// Update applies fn to the configuration under the write lock, validates the
// result and persists it.  On any error the previous configuration is kept.
func (cm *ConfigManager) Update(fn func(*Config) error) error {
    cm.mu.Lock()
    next := cm.cfg
    next.Users = append([]User(nil), cm.cfg.Users...)
    if err := fn(&next); err != nil {
        cm.mu.Unlock()
        return err
    }
    if err := validate.Struct(next); err != nil {
        cm.mu.Unlock()
        return fmt.Errorf("invalid configuration: %w", err)
    }
    cm.cfg = next
    cm.mu.Unlock()
    return cm.Save()
}

// FindUser returns a user and its index by username.  If not found, index
// will be -1.
func (cm *ConfigManager) FindUser(username string) (User, int) {
    cm.mu.RLock()
    defer cm.mu.RUnlock()
    for i, u := range cm.cfg.Users {
        if u.Username == username {
            return u, i
        }
    }
    return User{}, -1
}

// Authenticate checks whether the provided username and password are valid.
func (cm *ConfigManager) Authenticate(username, password string) (User, error) {
    user, idx := cm.FindUser(username)
    var hash string
    if idx >= 0 {
        hash = user.PasswordHash
    }
    if !verifyPassword(hash, password) {
        return User{}, errInvalidCredentials
    }
    return user, nil
}

// SetPassword replaces the password of username, creating a non-admin user
// when none exists.
func (cm *ConfigManager) SetPassword(username, password string) error {
    if username == "" || password == "" {
        return errors.New("username and password are required")
    }
    hash, err := hashPassword(password)
    if err != nil {
        return err
    }
    return cm.Update(func(c *Config) error {
        for i := range c.Users {
            if c.Users[i].Username == username {
                c.Users[i].PasswordHash = hash
                return nil
            }
        }
        c.Users = append(c.Users, User{Username: username, PasswordHash: hash})
        return nil
    })
}
