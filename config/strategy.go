package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// StrategyWeights maps strategy name -> scoring dimension -> weight.
// Populated from strategy.yaml; the signal engine falls back to its built-in
// defaults for any strategy not present here.
type StrategyWeights map[string]map[string]float64

var validDimensions = map[string]bool{
	"trend":       true,
	"momentum":    true,
	"volume":      true,
	"structure":   true,
	"volatility":  true,
	"riskQuality": true,
}

var strategyWeights = StrategyWeights{}

// Weights returns the learned strategy weight overrides loaded at startup.
func Weights() StrategyWeights {
	return strategyWeights
}

// applyStrategyFile overlays tunables from an optional strategy.yaml onto the
// env-derived config. Env vars prefixed TRADER_ override file values.
func applyStrategyFile(c *Config) {
	v := viper.New()
	v.SetConfigName("strategy")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(c.DataDir)
	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return // optional file
		}
		log.Warn().Err(err).Msg("strategy.yaml unreadable, using defaults")
		return
	}

	if v.IsSet("min_signal_score") {
		c.Engine.MinSignalScore = v.GetFloat64("min_signal_score")
	}
	if v.IsSet("min_confluence") {
		c.Engine.MinConfluence = v.GetInt("min_confluence")
	}
	if v.IsSet("session.start_utc") {
		c.Engine.SessionStartUTC = v.GetInt("session.start_utc")
	}
	if v.IsSet("session.end_utc") {
		c.Engine.SessionEndUTC = v.GetInt("session.end_utc")
	}
	if v.IsSet("breakeven_r_multiple") {
		c.Manage.BreakevenRMultiple = v.GetFloat64("breakeven_r_multiple")
	}
	if v.IsSet("trailing_start_r") {
		c.Manage.TrailingStartR = v.GetFloat64("trailing_start_r")
	}
	if v.IsSet("trailing_dist_r") {
		c.Manage.TrailingDistR = v.GetFloat64("trailing_dist_r")
	}

	if v.IsSet("lock_in_levels") {
		var levels []LockLevel
		if err := v.UnmarshalKey("lock_in_levels", &levels); err != nil {
			log.Warn().Err(err).Msg("strategy.yaml lock_in_levels malformed, keeping defaults")
		} else if err := validateLockLevels(levels); err != nil {
			log.Warn().Err(err).Msg("strategy.yaml lock_in_levels rejected")
		} else {
			c.Manage.LockInLevels = levels
		}
	}

	if v.IsSet("strategy_weights") {
		var weights StrategyWeights
		if err := v.UnmarshalKey("strategy_weights", &weights); err != nil {
			log.Warn().Err(err).Msg("strategy.yaml strategy_weights malformed, ignoring")
		} else if err := validateWeights(weights); err != nil {
			log.Warn().Err(err).Msg("strategy.yaml strategy_weights rejected")
		} else {
			strategyWeights = weights
			log.Info().Int("strategies", len(weights)).Msg("loaded learned strategy weights")
		}
	}
}

func validateLockLevels(levels []LockLevel) error {
	if len(levels) == 0 {
		return fmt.Errorf("empty level list")
	}
	prev := 0.0
	for _, l := range levels {
		if l.Progress <= prev || l.Progress > 1 {
			return fmt.Errorf("progress %.2f out of order or range", l.Progress)
		}
		if l.LockR <= 0 {
			return fmt.Errorf("lock_r %.2f must be positive", l.LockR)
		}
		prev = l.Progress
	}
	return nil
}

func validateWeights(weights StrategyWeights) error {
	for name, dims := range weights {
		keys := make([]string, 0, len(dims))
		for dim := range dims {
			keys = append(keys, dim)
		}
		sort.Strings(keys)
		for _, dim := range keys {
			if !validDimensions[dim] {
				return fmt.Errorf("strategy %s: unknown dimension %q", name, dim)
			}
			if dims[dim] < 0 {
				return fmt.Errorf("strategy %s: negative weight for %s", name, dim)
			}
		}
	}
	return nil
}
