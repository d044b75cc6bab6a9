// Package config loads run settings from a YAML file, a .env file and DESIM_*
// environment variables.
//
// Later sources override earlier ones: defaults, then the YAML file, then the
// environment.
package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/desim/sim"
)

// EnvPrefix prefixes every environment variable the package reads.
const EnvPrefix = "DESIM_"

// Config holds the settings of one simulation run.
type Config struct {
	Name        string `yaml:"name"`
	MaxTime     string `yaml:"max_time"`
	MaxSteps    uint64 `yaml:"max_steps"`
	IdleTimeout string `yaml:"idle_timeout"`
	LogLevel    string `yaml:"log_level"`

	Monitor MonitorConfig `yaml:"monitor"`
	Trace   TraceConfig   `yaml:"trace"`
}

// MonitorConfig controls the monitoring server.
type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	Port        int  `yaml:"port"`
	OpenBrowser bool `yaml:"open_browser"`
}

// TraceConfig names the files decision logs are written to. Empty means no
// trace of that kind.
type TraceConfig struct {
	CSV string `yaml:"csv"`
	DB  string `yaml:"db"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Name:     "kernel",
		LogLevel: "warn",
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "load %s", f)
		}
	}

	return nil
}

// Load reads a YAML file and applies environment overrides on top of it.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}

	return c, nil
}

// Parse reads YAML settings and applies environment overrides.
func Parse(r io.Reader) (Config, error) {
	c := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	err := dec.Decode(&c)
	if err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "parse yaml")
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	return c, c.Validate()
}

// FromEnv builds settings from defaults and the environment only.
func FromEnv() (Config, error) {
	c := Default()

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	return c, c.Validate()
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	boolean := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}

		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s%s", EnvPrefix, key)
		}

		*dst = b

		return nil
	}

	str("NAME", &c.Name)
	str("MAX_TIME", &c.MaxTime)
	str("IDLE_TIMEOUT", &c.IdleTimeout)
	str("LOG_LEVEL", &c.LogLevel)
	str("TRACE_CSV", &c.Trace.CSV)
	str("TRACE_DB", &c.Trace.DB)

	if v, ok := lookup(EnvPrefix + "MAX_STEPS"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "%sMAX_STEPS", EnvPrefix)
		}

		c.MaxSteps = n
	}

	if v, ok := lookup(EnvPrefix + "MONITOR_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%sMONITOR_PORT", EnvPrefix)
		}

		c.Monitor.Port = n
	}

	if err := boolean("MONITOR", &c.Monitor.Enabled); err != nil {
		return err
	}

	return boolean("OPEN_BROWSER", &c.Monitor.OpenBrowser)
}

// Validate checks that every setting can be converted.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("config: empty kernel name")
	}

	if _, _, err := c.maxTime(); err != nil {
		return err
	}

	if _, err := c.idleTimeout(); err != nil {
		return err
	}

	if _, err := c.Level(); err != nil {
		return err
	}

	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		return errors.Errorf("config: invalid monitor port %d", c.Monitor.Port)
	}

	return nil
}

func (c Config) maxTime() (sim.VTime, bool, error) {
	if c.MaxTime == "" {
		return 0, false, nil
	}

	d, err := sim.ParseDuration(c.MaxTime)
	if err != nil {
		return 0, false, errors.Wrap(err, "config: max_time")
	}

	return sim.VTime(d), true, nil
}

func (c Config) idleTimeout() (time.Duration, error) {
	if c.IdleTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil {
		return 0, errors.Wrap(err, "config: idle_timeout")
	}

	if d < 0 {
		return 0, errors.Errorf("config: negative idle_timeout %s", d)
	}

	return d, nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level

	err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel)))
	if err != nil {
		return 0, errors.Wrap(err, "config: log_level")
	}

	return l, nil
}

// Builder converts the settings into a kernel builder that logs to w.
func (c Config) Builder(w io.Writer) (sim.Builder, error) {
	if err := c.Validate(); err != nil {
		return sim.Builder{}, err
	}

	level, _ := c.Level()
	idle, _ := c.idleTimeout()

	b := sim.MakeBuilder().
		WithName(c.Name).
		WithLogger(slog.New(slog.NewTextHandler(w,
			&slog.HandlerOptions{Level: level}))).
		WithMaxSteps(c.MaxSteps).
		WithIdleTimeout(idle)

	if t, ok, _ := c.maxTime(); ok {
		b = b.WithMaxTime(t)
	}

	return b, nil
}
