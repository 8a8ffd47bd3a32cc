package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is decoded.
const (
	EnvMemoryRoot = "FORGE_HOOKS_MEMORY_ROOT"
	EnvAuditDB    = "FORGE_HOOKS_AUDIT_DB"
	EnvLogLevel   = "FORGE_HOOKS_LOG_LEVEL"
	EnvTimeout    = "FORGE_HOOKS_TIMEOUT"
	EnvReadOnly   = "FORGE_HOOKS_READ_ONLY"
	EnvDenyList   = "FORGE_HOOKS_DENY_LIST"
)

// debounceDelay collapses the burst of events editors emit on save.
const debounceDelay = 100 * time.Millisecond

// Loader handles policy loading, watching, and hot-reloading.
type Loader struct {
	path     string
	policy   *Policy
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []func(*Policy)
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
}

// NewLoader creates a loader for path. An empty path loads the defaults.
func NewLoader(path string) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:    path,
		errChan: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Path is the watched policy file.
func (l *Loader) Path() string { return l.path }

// Load reads, overrides and validates the policy.
func (l *Loader) Load() (*Policy, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := loadPolicy(l.path)
	if err != nil {
		return nil, err
	}
	l.policy = p
	return p, nil
}

// Policy returns the most recently loaded policy.
func (l *Loader) Policy() *Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy
}

// Watch starts watching the policy file. Changes are reloaded and passed
// to the OnChange callbacks; a change that fails to load or validate is
// reported on Errors and the previous policy stays in effect.
func (l *Loader) Watch() error {
	if l.path == "" {
		return fmt.Errorf("config: no policy file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	l.watcher = watcher

	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch directory: %w", err)
	}

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-l.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) reload() {
	if l.ctx.Err() != nil {
		return
	}
	p, err := loadPolicy(l.path)
	if err != nil {
		l.report(fmt.Errorf("config: reload: %w", err))
		return
	}

	l.mu.Lock()
	l.policy = p
	callbacks := slices.Clone(l.onChange)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(p)
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// OnChange registers a callback invoked after each successful reload.
func (l *Loader) OnChange(cb func(*Policy)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Errors returns a channel for receiving errors that occur during watching.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Close stops the watcher and releases resources.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// Load is a convenience for NewLoader(path).Load().
func Load(path string) (*Policy, error) {
	return NewLoader(path).Load()
}

func loadPolicy(path string) (*Policy, error) {
	p, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	if err := p.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// decodeFile parses path over the defaults. A missing file yields the
// defaults. A file that declares hooks replaces the default table wholesale.
func decodeFile(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	p.Hooks = nil
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), p); err != nil {
			return nil, fmt.Errorf("config: decode TOML %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("config: decode JSON %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("config: decode YAML %s: %w", path, err)
		}
	default:
		if err := autoDetectAndParse(data, p); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if p.Hooks == nil {
		p.Hooks = DefaultHooks()
	}

	if abs, err := filepath.Abs(path); err == nil {
		p.BaseDir = filepath.Dir(abs)
	} else {
		p.BaseDir = filepath.Dir(path)
	}
	return p, nil
}

// autoDetectAndParse tries JSON, then TOML, then YAML. JSON goes first
// because hooks.json is the common case and is also valid YAML.
func autoDetectAndParse(data []byte, p *Policy) error {
	if err := json.Unmarshal(data, p); err == nil {
		return nil
	}
	if _, err := toml.Decode(string(data), p); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, p); err == nil {
		return nil
	}
	return fmt.Errorf("unable to parse policy (tried JSON, TOML, YAML)")
}

// ApplyEnvOverrides applies FORGE_HOOKS_* variables.
func (p *Policy) ApplyEnvOverrides() error {
	if v := os.Getenv(EnvMemoryRoot); v != "" {
		p.MemoryRoot = v
	}
	if v := os.Getenv(EnvAuditDB); v != "" {
		p.AuditDB = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		p.LogLevel = v
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvTimeout, err)
		}
		p.HookTimeout = n
	}
	if v := os.Getenv(EnvReadOnly); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvReadOnly, err)
		}
		p.Foreman.ReadOnly = b
	}
	if v := os.Getenv(EnvDenyList); v != "" {
		for _, entry := range strings.Split(v, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				p.DenyList = append(p.DenyList, entry)
			}
		}
	}
	return nil
}
