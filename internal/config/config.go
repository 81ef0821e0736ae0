// Package config loads the server-operator tunables from a YAML file and
// watches it for live reload, generalized from the teacher's
// LoadWingConfig/SaveWingConfig shape (ehrlich-b-wingthing's
// internal/config/wing.go) — this repo's config is a single operator-owned
// YAML document, not a per-user/per-project merge, so the merge-precedence
// machinery was dropped but the load/defaults/watch shape was kept.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ICEServer is a STUN/TURN server entry, grounded verbatim on the
// teacher's ICEServer (internal/config/wing.go) since WebRTC configuration
// is the same shape regardless of domain.
type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// SyncConfig is the full set of server-operator tunables.
type SyncConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
	DataDir    string `yaml:"data_dir,omitempty"`
	LogLevel   string `yaml:"log_level,omitempty"`
	LogFile    string `yaml:"log_file,omitempty"`

	ICEServers []ICEServer `yaml:"ice_servers,omitempty"`

	TickHz             int   `yaml:"tick_hz,omitempty"`
	InputDelay         int   `yaml:"input_delay,omitempty"`
	SnapshotInterval   int   `yaml:"snapshot_interval,omitempty"`
	MaxSnapshots       int   `yaml:"max_snapshots,omitempty"`
	RedundancyCount    int   `yaml:"redundancy_count,omitempty"`
	ReconnectTimeoutMs int64 `yaml:"reconnect_timeout_ms,omitempty"`
	ConfirmationTimeoutMs int64 `yaml:"confirmation_timeout_ms,omitempty"`
	MaxFastForwardFrames  int   `yaml:"max_fast_forward_frames,omitempty"`
	MaxFastForwardMillis  int   `yaml:"max_fast_forward_millis,omitempty"`

	RequiredPlayers   int    `yaml:"required_players,omitempty"`
	MaxServerRTTms    *int64 `yaml:"max_server_rtt_ms,omitempty"`
	MaxP2PRTTms       *int64 `yaml:"max_p2p_rtt_ms,omitempty"`
	ProbePings        int    `yaml:"probe_pings,omitempty"`
	ProbeIntervalMs   int64  `yaml:"probe_interval_ms,omitempty"`
	WaitroomTimeoutMs int64  `yaml:"waitroom_timeout_ms,omitempty"`
}

// defaults fills in spec-stated defaults for anything left zero.
func (c *SyncConfig) defaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8443"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TickHz == 0 {
		c.TickHz = 60
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = 15
	}
	if c.MaxSnapshots == 0 {
		c.MaxSnapshots = 64
	}
	if c.RedundancyCount == 0 {
		c.RedundancyCount = 3
	}
	if c.ReconnectTimeoutMs == 0 {
		c.ReconnectTimeoutMs = 10_000
	}
	if c.ConfirmationTimeoutMs == 0 {
		c.ConfirmationTimeoutMs = 30_000
	}
	if c.MaxFastForwardFrames == 0 {
		c.MaxFastForwardFrames = 300
	}
	if c.MaxFastForwardMillis == 0 {
		c.MaxFastForwardMillis = 1000
	}
	if c.RequiredPlayers == 0 {
		c.RequiredPlayers = 2
	}
	if c.ProbePings == 0 {
		c.ProbePings = 5
	}
	if c.ProbeIntervalMs == 0 {
		c.ProbeIntervalMs = 100
	}
	if c.WaitroomTimeoutMs == 0 {
		c.WaitroomTimeoutMs = 30_000
	}
}

// Load reads sync.yaml from path. A missing file yields defaults rather
// than an error, matching LoadWingConfig's "absence is fine" behavior.
func Load(path string) (*SyncConfig, error) {
	cfg := &SyncConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.defaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg *SyncConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Watcher holds the live, hot-reloadable config plus the fsnotify watch
// driving its reloads.
type Watcher struct {
	mu      sync.RWMutex
	path    string
	current *SyncConfig
	onChange func(*SyncConfig)
}

// NewWatcher loads path once and arms an fsnotify watch on its parent
// directory (watching the file itself misses editor-rename-based saves).
func NewWatcher(path string, onChange func(*SyncConfig)) (*Watcher, func() error, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	w := &Watcher{path: path, current: cfg, onChange: onChange}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("config: new fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}

	go w.watchLoop(fw)
	return w, fw.Close, nil
}

func (w *Watcher) watchLoop(fw *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			if w.onChange != nil {
				w.onChange(cfg)
			}
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Current returns the most recently (re)loaded config.
func (w *Watcher) Current() *SyncConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
