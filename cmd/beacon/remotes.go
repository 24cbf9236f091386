package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
)

// remotesFile is where named server profiles are kept, relative to $HOME.
const remotesFile = ".local/state/beacon/remotes.toml"

// RemotesConfig is the on-disk set of named server profiles.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

// Remote is one server profile.
type Remote struct {
	URL   string `toml:"url"`
	Token string `toml:"token,omitempty"`
}

var errNoActiveRemote = errors.New("no active remote; specify a name or run 'beacon remote use <name>'")

// Names returns the profile names in order.
func (c *RemotesConfig) Names() []string {
	names := make([]string, 0, len(c.Remotes))
	for name := range c.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named profile, or the active one when name is empty.
func (c *RemotesConfig) Lookup(name string) (string, Remote, error) {
	if name == "" {
		name = c.Active
	}
	if name == "" {
		return "", Remote{}, errNoActiveRemote
	}
	r, ok := c.Remotes[name]
	if !ok {
		return "", Remote{}, fmt.Errorf("remote %q not found", name)
	}
	return name, r, nil
}

// Remove deletes a profile and clears it as the active one.
func (c *RemotesConfig) Remove(name string) error {
	if _, ok := c.Remotes[name]; !ok {
		return fmt.Errorf("remote %q not found", name)
	}
	delete(c.Remotes, name)
	if c.Active == name {
		c.Active = ""
	}
	return nil
}

// Use makes name the active profile.
func (c *RemotesConfig) Use(name string) error {
	if _, ok := c.Remotes[name]; !ok {
		return fmt.Errorf("remote %q not found", name)
	}
	c.Active = name
	return nil
}

// remoteConfigPath returns the remotes file path, creating its directory
// with owner-only permissions.
func remoteConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	path := filepath.Join(home, filepath.FromSlash(remotesFile))
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	return path, nil
}

func loadRemotesConfig() (RemotesConfig, error) {
	cfg := RemotesConfig{Remotes: map[string]Remote{}}
	path, err := remoteConfigPath()
	if err != nil {
		return cfg, err
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

func saveRemotesConfig(cfg RemotesConfig) error {
	path, err := remoteConfigPath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// activeRemote is read once per process; flag defaults depend on it.
var activeRemote = sync.OnceValue(func() Remote {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return Remote{}
	}
	_, r, err := cfg.Lookup("")
	if err != nil {
		return Remote{}
	}
	return r
})

func activeRemoteURL() string   { return activeRemote().URL }
func activeRemoteToken() string { return activeRemote().Token }
