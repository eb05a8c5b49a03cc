// Package config holds operator-level configuration for an agent-continuity
// process: where the ledger lives and the tuning constants of the injector,
// the persona lock policy, leases and the ritual timer.
//
// Values come from Viper, which merges CONTINUITY_* env vars, the optional
// continuity.config.yaml file and the defaults registered here. Nested keys
// map to env vars with dots replaced by underscores
// (inject.relevance_floor -> CONTINUITY_INJECT_RELEVANCE_FLOOR).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/rcliao/agent-continuity/internal/continuity"
	"github.com/rcliao/agent-continuity/internal/inject"
	"github.com/rcliao/agent-continuity/internal/ritual"
	"github.com/rcliao/agent-continuity/internal/session"
)

// EnvPrefix is prepended to every env var Viper reads.
const EnvPrefix = "CONTINUITY"

// Viper keys.
const (
	KeyDBPath = "db_path"

	KeyRelevanceFloor  = "inject.relevance_floor"
	KeyCandidateLimit  = "inject.candidate_limit"
	KeyTopicWeight     = "inject.topic_weight"
	KeyIntentWeight    = "inject.intent_weight"
	KeyRelevanceWeight = "inject.relevance_weight"

	KeyMinConfidence      = "lock.min_confidence"
	KeyAnchorSignificance = "lock.anchor_significance"
	KeySwitchConfidence   = "lock.switch_confidence"
	KeyReplaceMargin      = "lock.replace_margin"
	KeyDefaultMaxMessages = "lock.default_max_messages"

	KeyLeaseDuration  = "lease.default_duration"
	KeyRitualTick     = "ritual.tick"
	KeyRelevanceBoost = "access.relevance_boost"
)

// Config is the resolved configuration.
type Config struct {
	DBPath     string
	Manager    continuity.Options
	RitualTick string
}

func init() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	SetDefaults(viper.GetViper())
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := continuity.DefaultOptions()
	v.SetDefault(KeyRelevanceFloor, d.Inject.RelevanceFloor)
	v.SetDefault(KeyCandidateLimit, d.Inject.CandidateLimit)
	v.SetDefault(KeyTopicWeight, d.Inject.Weights.Topic)
	v.SetDefault(KeyIntentWeight, d.Inject.Weights.Intent)
	v.SetDefault(KeyRelevanceWeight, d.Inject.Weights.Relevance)

	v.SetDefault(KeyMinConfidence, d.Lock.MinConfidence)
	v.SetDefault(KeyAnchorSignificance, d.Lock.AnchorSignificance)
	v.SetDefault(KeySwitchConfidence, d.Lock.SwitchConfidence)
	v.SetDefault(KeyReplaceMargin, d.Lock.ReplaceMargin)
	v.SetDefault(KeyDefaultMaxMessages, d.Lock.DefaultMaxMessages)

	v.SetDefault(KeyLeaseDuration, d.LeaseDuration)
	v.SetDefault(KeyRitualTick, ritual.DefaultTick)
	v.SetDefault(KeyRelevanceBoost, d.RelevanceBoost)
}

// Load reads the global Viper instance and returns a validated Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads v and returns a validated Config.
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBPath: resolveDBPath(v),
		Manager: continuity.Options{
			Inject: inject.Params{
				RelevanceFloor: v.GetFloat64(KeyRelevanceFloor),
				CandidateLimit: v.GetInt(KeyCandidateLimit),
				Weights: inject.Weights{
					Topic:     v.GetFloat64(KeyTopicWeight),
					Intent:    v.GetFloat64(KeyIntentWeight),
					Relevance: v.GetFloat64(KeyRelevanceWeight),
				},
			},
			Lock: session.LockPolicy{
				MinConfidence:      v.GetFloat64(KeyMinConfidence),
				AnchorSignificance: v.GetFloat64(KeyAnchorSignificance),
				SwitchConfidence:   v.GetFloat64(KeySwitchConfidence),
				ReplaceMargin:      v.GetFloat64(KeyReplaceMargin),
				DefaultMaxMessages: v.GetInt(KeyDefaultMaxMessages),
			},
			LeaseDuration:  v.GetDuration(KeyLeaseDuration),
			RelevanceBoost: v.GetFloat64(KeyRelevanceBoost),
		},
		RitualTick: v.GetString(KeyRitualTick),
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDBPath(v *viper.Viper) string {
	if p := v.GetString(KeyDBPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".agent-continuity", "continuity.db")
	}
	return filepath.Join(home, ".agent-continuity", "continuity.db")
}

func unit(key string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %g", key, v)
	}
	return nil
}

func (c *Config) validate() error {
	in := c.Manager.Inject
	for key, v := range map[string]float64{
		KeyRelevanceFloor:     in.RelevanceFloor,
		KeyMinConfidence:      c.Manager.Lock.MinConfidence,
		KeyAnchorSignificance: c.Manager.Lock.AnchorSignificance,
		KeySwitchConfidence:   c.Manager.Lock.SwitchConfidence,
		KeyReplaceMargin:      c.Manager.Lock.ReplaceMargin,
		KeyRelevanceBoost:     c.Manager.RelevanceBoost,
	} {
		if err := unit(key, v); err != nil {
			return err
		}
	}
	w := in.Weights
	if w.Topic < 0 || w.Intent < 0 || w.Relevance < 0 {
		return fmt.Errorf("inject weights must be non-negative")
	}
	if w.Topic+w.Intent+w.Relevance <= 0 {
		return fmt.Errorf("inject weights must not all be zero")
	}
	if in.CandidateLimit <= 0 {
		return fmt.Errorf("%s must be positive", KeyCandidateLimit)
	}
	if c.Manager.Lock.DefaultMaxMessages <= 0 {
		return fmt.Errorf("%s must be positive", KeyDefaultMaxMessages)
	}
	if c.Manager.LeaseDuration < time.Second {
		return fmt.Errorf("%s must be at least 1s, got %s", KeyLeaseDuration, c.Manager.LeaseDuration)
	}
	if _, err := cron.ParseStandard(c.RitualTick); err != nil {
		return fmt.Errorf("%s %q: %w", KeyRitualTick, c.RitualTick, err)
	}
	return nil
}
