// Package config loads the bot's settings. Later sources override
// earlier ones: built-in defaults, an optional YAML file, a .env file,
// then the process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gatekeeper/roles"
)

type RoleIDs struct {
	Artist     string `yaml:"artist" env:"ROLE_ID_ARTIST"`
	Member     string `yaml:"member" env:"ROLE_ID_MEMBER"`
	Unverified string `yaml:"unverified" env:"ROLE_ID_UNVERIFIED"`
	Hidden     string `yaml:"hidden" env:"ROLE_ID_HIDDEN"`
}

type ChannelIDs struct {
	Artist            string `yaml:"artist" env:"CHANNEL_ID_ARTIST"`
	Member            string `yaml:"member" env:"CHANNEL_ID_MEMBER"`
	Unverified        string `yaml:"unverified" env:"CHANNEL_ID_UNVERIFIED"`
	// Verification is the review board completed forms are posted to.
	Verification string `yaml:"verification" env:"CHANNEL_ID_VERIFICATION"`
	// VerificationCheck is the intake channel where /verify is typed.
	VerificationCheck string `yaml:"verification_check" env:"CHANNEL_ID_VERIFICATION_CHECK"`
	Welcome           string `yaml:"welcome" env:"CHANNEL_ID_WELCOME"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type Config struct {
	Token   string   `yaml:"token" env:"TOKEN"`
	GuildID string   `yaml:"server" env:"SERVER"`
	BotIDs  []string `yaml:"bot_ids" env:"BOT_IDS" envSeparator:","`

	// Older deployments list bot accounts one variable each.
	LegacyBotID1 string `yaml:"-" env:"BOT_ID_1"`
	LegacyBotID2 string `yaml:"-" env:"BOT_ID_2"`
	LegacyBotID3 string `yaml:"-" env:"BOT_ID_3"`

	Roles           RoleIDs    `yaml:"roles"`
	Channels        ChannelIDs `yaml:"channels"`
	ModeratorRoleID string     `yaml:"moderator_role_id" env:"MODERATOR_ROLE_ID"`
	Redis           Redis      `yaml:"redis"`

	Port                 int           `yaml:"port" env:"PORT"`
	QuestionTimeout      time.Duration `yaml:"question_timeout" env:"QUESTION_TIMEOUT"`
	ReasonTimeout        time.Duration `yaml:"reason_timeout" env:"REASON_TIMEOUT"`
	CounterInterval      time.Duration `yaml:"counter_interval" env:"COUNTER_INTERVAL"`
	CounterRecountCycles int           `yaml:"counter_recount_cycles" env:"COUNTER_RECOUNT_CYCLES"`
	RetryBaseDelay       time.Duration `yaml:"retry_base_delay" env:"RETRY_BASE_DELAY"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	LogJSON  bool   `yaml:"log_json" env:"LOG_JSON"`
}

func Default() Config {
	return Config{
		Port:                 10000,
		QuestionTimeout:      2 * time.Minute,
		ReasonTimeout:        2 * time.Minute,
		CounterInterval:      60 * time.Second,
		CounterRecountCycles: 60,
		RetryBaseDelay:       time.Second,
		LogLevel:             "info",
		LogJSON:              true,
	}
}

// Load reads the configuration. An empty path skips the YAML file; a
// missing env file is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	vars := map[string]string{}
	if envFile != "" {
		dotenv, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		default:
			vars = dotenv
		}
	}
	for k, v := range env.ToMap(os.Environ()) {
		vars[k] = v
	}
	if err := ParseEnv(&cfg, vars); err != nil {
		return Config{}, err
	}

	for _, id := range []string{cfg.LegacyBotID1, cfg.LegacyBotID2, cfg.LegacyBotID3} {
		if id != "" {
			cfg.BotIDs = append(cfg.BotIDs, id)
		}
	}
	cfg.BotIDs = compact(cfg.BotIDs)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ParseEnv fills target from vars. Unset keys leave fields untouched.
func ParseEnv(target any, vars map[string]string) error {
	if err := env.ParseWithOptions(target, env.Options{Environment: vars}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func compact(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Validate reports every missing or out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	required := []struct {
		key, value string
	}{
		{"TOKEN", c.Token},
		{"SERVER", c.GuildID},
		{"ROLE_ID_ARTIST", c.Roles.Artist},
		{"ROLE_ID_MEMBER", c.Roles.Member},
		{"ROLE_ID_UNVERIFIED", c.Roles.Unverified},
		{"ROLE_ID_HIDDEN", c.Roles.Hidden},
		{"CHANNEL_ID_ARTIST", c.Channels.Artist},
		{"CHANNEL_ID_MEMBER", c.Channels.Member},
		{"CHANNEL_ID_UNVERIFIED", c.Channels.Unverified},
		{"CHANNEL_ID_VERIFICATION", c.Channels.Verification},
		{"CHANNEL_ID_VERIFICATION_CHECK", c.Channels.VerificationCheck},
		{"CHANNEL_ID_WELCOME", c.Channels.Welcome},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	durations := []struct {
		key   string
		value time.Duration
	}{
		{"QUESTION_TIMEOUT", c.QuestionTimeout},
		{"REASON_TIMEOUT", c.ReasonTimeout},
		{"COUNTER_INTERVAL", c.CounterInterval},
		{"RETRY_BASE_DELAY", c.RetryBaseDelay},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.key))
		}
	}
	if c.CounterRecountCycles < 0 {
		errs = append(errs, errors.New("COUNTER_RECOUNT_CYCLES must not be negative"))
	}
	return errors.Join(errs...)
}

// Bindings ties each role to its counter channel. Hidden has none and is
// not counted.
func (c Config) Bindings() []roles.Binding {
	return []roles.Binding{
		{Name: roles.Artist, RoleID: c.Roles.Artist, ChannelID: c.Channels.Artist},
		{Name: roles.Member, RoleID: c.Roles.Member, ChannelID: c.Channels.Member},
		{Name: roles.Unverified, RoleID: c.Roles.Unverified, ChannelID: c.Channels.Unverified},
		{Name: roles.Hidden, RoleID: c.Roles.Hidden},
	}
}
