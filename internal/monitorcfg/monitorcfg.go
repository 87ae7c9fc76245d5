// Package monitorcfg reads the supervisor's own operational configuration
// (where to find unit files, where logs go, how noisy to be) from a
// classic gcfg-style INI file.
package monitorcfg

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/gravwell/gcfg"
)

const maxConfigSize int64 = 1024 * 1024

const (
	defaultLogLevel = `WARN`
	defaultUnitDir  = `/etc/sysvkit/system`
	defaultRunDir   = `/run/sysvkit`
	defaultLogFile  = `/var/log/sysvkit/monitor.log`
)

type global struct {
	Log_File  string
	Log_Level string
	Unit_Dir  string
	Run_Dir   string
}

// cfgType is the gcfg-decoded shape of the config file. Field names follow
// gcfg's CamelCase-with-underscores convention so that the on-disk keys
// stay readable ini-style names.
type cfgType struct {
	Global global
}

// Config is the validated, defaulted configuration the front-end and
// monitor package actually use.
type Config struct {
	LogFile  string
	LogLevel string
	UnitDir  string
	RunDir   string
	SelfBase string
}

// Load reads and validates the monitor configuration file at path,
// applying defaults for anything left unset.
func Load(path string) (Config, error) {
	var c cfgType
	var cfg Config

	fin, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer fin.Close()

	fi, err := fin.Stat()
	if err != nil {
		return cfg, err
	}
	if fi.Size() > maxConfigSize {
		return cfg, errors.New("monitorcfg: config file far too large")
	}

	data, err := ioutil.ReadAll(fin)
	if err != nil {
		return cfg, err
	}
	if err := gcfg.ReadStringInto(&c, string(data)); err != nil {
		return cfg, err
	}

	cfg = Config{
		LogFile:  c.Global.Log_File,
		LogLevel: c.Global.Log_Level,
		UnitDir:  c.Global.Unit_Dir,
		RunDir:   c.Global.Run_Dir,
	}
	cfg.applyDefaults()
	return cfg, cfg.validate()
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.UnitDir == "" {
		c.UnitDir = defaultUnitDir
	}
	if c.RunDir == "" {
		c.RunDir = defaultRunDir
	}
	if c.LogFile == "" {
		c.LogFile = defaultLogFile
	}
	c.SelfBase = filepath.Join(c.RunDir, "control")
}

func (c Config) validate() error {
	if !filepath.IsAbs(c.UnitDir) {
		return errors.New("monitorcfg: unit directory must be an absolute path")
	}
	if !filepath.IsAbs(c.RunDir) {
		return errors.New("monitorcfg: run directory must be an absolute path")
	}
	return nil
}
