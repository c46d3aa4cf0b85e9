// Package config loads nextcloud-tag-sync.toml per spec.md §6: a
// layered-source search (CWD, user config dir, walk-up-from-CWD) with
// NCTS_-prefixed environment variable overrides. The external
// collaborator contract is fixed by §6; this package is the one
// concrete implementation of it the core engine depends on.
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ede1998/nextcloud-tag-sync/internal/diff"
	"github.com/ede1998/nextcloud-tag-sync/internal/localstore"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagerr"
)

// FileName is the configuration file's name, searched for along the
// order described in spec.md §6.
const FileName = "nextcloud-tag-sync.toml"

// envPrefix is prepended to the upper-cased TOML key name to form the
// override environment variable, e.g. `dry_run` -> `NCTS_DRY_RUN`.
const envPrefix = "NCTS_"

// PrefixPair mirrors spec.md §3/§6: one local/remote directory
// mapping.
type PrefixPair struct {
	Local  string `toml:"local"`
	Remote string `toml:"remote"`
}

// Config is the decoded, defaulted, environment-overridden
// configuration document.
type Config struct {
	TagDatabase           string       `toml:"tag_database"`
	KeepSideOnConflict    string       `toml:"keep_side_on_conflict"`
	NextcloudInstance     string       `toml:"nextcloud_instance"`
	User                  string       `toml:"user"`
	Token                 string       `toml:"token"`
	DryRun                bool         `toml:"dry_run"`
	Prefixes              []PrefixPair `toml:"prefixes"`
	MaxConcurrentRequests int          `toml:"max_concurrent_requests"`
	LocalTagPropertyName  string       `toml:"local_tag_property_name"`
}

// defaults applies the §6 defaults for keys the file/env left unset.
func (c *Config) defaults() {
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = 10
	}
	if c.LocalTagPropertyName == "" {
		c.LocalTagPropertyName = localstore.DefaultAttribute
	}
	if c.KeepSideOnConflict == "" {
		c.KeepSideOnConflict = "Both"
	}
}

// ConflictPolicy parses KeepSideOnConflict into a diff.Policy.
func (c *Config) ConflictPolicy() (diff.Policy, error) {
	switch strings.ToLower(c.KeepSideOnConflict) {
	case "both", "":
		return diff.Both, nil
	case "left":
		return diff.Left, nil
	case "right":
		return diff.Right, nil
	default:
		return 0, tagerr.New(tagerr.KindConfig, "keep_side_on_conflict must be one of Both, Left, Right").WithPath(c.KeepSideOnConflict)
	}
}

// Validate checks structural requirements that TOML decoding alone
// cannot express.
func (c *Config) Validate() error {
	if c.NextcloudInstance == "" {
		return tagerr.New(tagerr.KindConfig, "nextcloud_instance is required")
	}
	if c.User == "" {
		return tagerr.New(tagerr.KindConfig, "user is required")
	}
	if len(c.Prefixes) == 0 {
		return tagerr.New(tagerr.KindConfig, "at least one prefix pair is required")
	}
	if _, err := c.ConflictPolicy(); err != nil {
		return err
	}
	return nil
}

// Load searches for FileName in CWD, the user config directory, and
// then each ancestor of CWD, decodes the first one found, applies
// NCTS_ environment overrides and defaults, and validates the result.
func Load() (*Config, error) {
	path, err := locate()
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, tagerr.Wrap(err, tagerr.KindConfig, "decode config").WithPath(path)
		}
	}
	applyEnvOverrides(cfg)
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func locate() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", tagerr.Wrap(err, tagerr.KindConfig, "getwd")
	}
	if p := filepath.Join(cwd, FileName); fileExists(p) {
		return p, nil
	}
	if dir, err := os.UserConfigDir(); err == nil {
		if p := filepath.Join(dir, FileName); fileExists(p) {
			return p, nil
		}
	}
	dir := cwd
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
		if p := filepath.Join(dir, FileName); fileExists(p) {
			return p, nil
		}
	}
	return "", nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// applyEnvOverrides walks the Config's exported fields via reflection,
// overriding any whose `toml` tag has a matching NCTS_<KEY> environment
// variable set.
func applyEnvOverrides(cfg *Config) {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("toml")
		if tag == "" {
			continue
		}
		envName := envPrefix + strings.ToUpper(tag)
		raw, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		fv := v.Field(i)
		switch fv.Kind() {
		case reflect.String:
			fv.SetString(raw)
		case reflect.Bool:
			if b, err := strconv.ParseBool(raw); err == nil {
				fv.SetBool(b)
			}
		case reflect.Int:
			if n, err := strconv.Atoi(raw); err == nil {
				fv.SetInt(int64(n))
			}
		default:
			// Slices (Prefixes) are not overridable via a single
			// scalar environment variable; file config is the only
			// source for those.
		}
	}
}
