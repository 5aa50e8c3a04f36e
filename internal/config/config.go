package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon's runtime configuration. Fields mirror the recognized
// keys: root, bindAddr, port, isHQ, remoteToken, scrollbackRows, coalesceMillis,
// heartbeatSeconds, healthIntervalSeconds, plus dbPath and maxReplayBytes.
type Config struct {
	Root                  string `json:"root,omitempty" yaml:"root,omitempty"`
	BindAddr              string `json:"bindAddr,omitempty" yaml:"bindAddr,omitempty"`
	Port                  int    `json:"port,omitempty" yaml:"port,omitempty"`
	IsHQ                  bool   `json:"isHQ,omitempty" yaml:"isHQ,omitempty"`
	RemoteToken           string `json:"remoteToken,omitempty" yaml:"remoteToken,omitempty"`
	ScrollbackRows        int    `json:"scrollbackRows,omitempty" yaml:"scrollbackRows,omitempty"`
	CoalesceMillis        int    `json:"coalesceMillis,omitempty" yaml:"coalesceMillis,omitempty"`
	HeartbeatSeconds      int    `json:"heartbeatSeconds,omitempty" yaml:"heartbeatSeconds,omitempty"`
	HealthIntervalSeconds int    `json:"healthIntervalSeconds,omitempty" yaml:"healthIntervalSeconds,omitempty"`
	DBPath                string `json:"dbPath,omitempty" yaml:"dbPath,omitempty"`
	MaxReplayBytes        int    `json:"maxReplayBytes,omitempty" yaml:"maxReplayBytes,omitempty"`
}

func defaults() *Config {
	return &Config{
		Root:                  "",
		BindAddr:              "127.0.0.1",
		Port:                  4020,
		IsHQ:                  false,
		RemoteToken:           "",
		ScrollbackRows:        2000,
		CoalesceMillis:        16,
		HeartbeatSeconds:      30,
		HealthIntervalSeconds: 10,
		DBPath:                "",
		MaxReplayBytes:        1 << 20,
	}
}

// Manager loads a single config file, applies environment overrides on top,
// and falls back to defaults for anything left unset. Unlike the teacher's
// user-config/project-config split (there is no per-project notion for a
// daemon process), there is exactly one file in play here; see DESIGN.md.
type Manager struct {
	file   *Config
	merged *Config
}

func NewManager() *Manager {
	return &Manager{file: &Config{}, merged: &Config{}}
}

// Load reads configPath (if it exists), applies VT_-prefixed environment
// overrides, then merges onto the built-in defaults.
func (m *Manager) Load(configPath string) error {
	if configPath != "" {
		if err := m.loadFile(configPath); err != nil {
			return err
		}
	}
	m.mergeConfigs()
	return nil
}

func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if isYAMLPath(path) {
		return yaml.Unmarshal(data, m.file)
	}
	return json.Unmarshal(data, m.file)
}

// isYAMLPath reports whether configPath should be read/written as YAML
// rather than JSON, by extension — ".yaml"/".yml" vs. everything else.
func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (m *Manager) mergeConfigs() {
	d := defaults()
	f := m.file

	m.merged = &Config{
		Root:                  getStringValue(envString("VT_ROOT"), f.Root, d.Root),
		BindAddr:              getStringValue(envString("VT_BIND_ADDR"), f.BindAddr, d.BindAddr),
		Port:                  getIntValue(envInt("VT_PORT"), f.Port, d.Port),
		IsHQ:                  getBoolValue(envBool("VT_IS_HQ"), f.IsHQ, d.IsHQ),
		RemoteToken:           getStringValue(envString("VT_REMOTE_TOKEN"), f.RemoteToken, d.RemoteToken),
		ScrollbackRows:        getIntValue(envInt("VT_SCROLLBACK_ROWS"), f.ScrollbackRows, d.ScrollbackRows),
		CoalesceMillis:        getIntValue(envInt("VT_COALESCE_MILLIS"), f.CoalesceMillis, d.CoalesceMillis),
		HeartbeatSeconds:      getIntValue(envInt("VT_HEARTBEAT_SECONDS"), f.HeartbeatSeconds, d.HeartbeatSeconds),
		HealthIntervalSeconds: getIntValue(envInt("VT_HEALTH_INTERVAL_SECONDS"), f.HealthIntervalSeconds, d.HealthIntervalSeconds),
		DBPath:                getStringValue(envString("VT_DB_PATH"), f.DBPath, d.DBPath),
		MaxReplayBytes:        getIntValue(envInt("VT_MAX_REPLAY_BYTES"), f.MaxReplayBytes, d.MaxReplayBytes),
	}
}

func (m *Manager) Get() *Config { return m.merged }

// Save writes the in-memory file-layer config back to configPath, in
// YAML or JSON depending on its extension.
func (m *Manager) Save(configPath string) error {
	var data []byte
	var err error
	if isYAMLPath(configPath) {
		data, err = yaml.Marshal(m.file)
	} else {
		data, err = json.MarshalIndent(m.file, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}

func getStringValue(env, file, fallback string) string {
	if env != "" {
		return env
	}
	if file != "" {
		return file
	}
	return fallback
}

func getBoolValue(env *bool, file, fallback bool) bool {
	if env != nil {
		return *env
	}
	if file {
		return file
	}
	return fallback
}

func getIntValue(env *int, file, fallback int) int {
	if env != nil {
		return *env
	}
	if file != 0 {
		return file
	}
	return fallback
}

func envString(key string) string {
	return os.Getenv(key)
}

func envInt(key string) *int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func envBool(key string) *bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}
