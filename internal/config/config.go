// Package config loads codeheal settings from defaults, config files,
// .env files and CODEHEAL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/codeheal/internal/analyze"
	"github.com/phobologic/codeheal/internal/diagnose"
	"github.com/phobologic/codeheal/internal/discover"
	"github.com/phobologic/codeheal/internal/heal"
	"github.com/phobologic/codeheal/internal/logging"
	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/parse"
	"github.com/phobologic/codeheal/internal/phase"
	"github.com/phobologic/codeheal/internal/ranking"
	"github.com/phobologic/codeheal/internal/rhythm"
	"github.com/phobologic/codeheal/internal/score"
)

// FileName is the project-level config file written by `codeheal init`.
const FileName = ".codeheal.yaml"

// Config holds all configuration settings.
type Config struct {
	Scoring   ScoringConfig   `mapstructure:"scoring" yaml:"scoring"`
	Phase     PhaseConfig     `mapstructure:"phase" yaml:"phase"`
	Diagnosis DiagnosisConfig `mapstructure:"diagnosis" yaml:"diagnosis"`
	Rhythm    RhythmConfig    `mapstructure:"rhythm" yaml:"rhythm"`
	Selection SelectionConfig `mapstructure:"selection" yaml:"selection"`
	Healing   HealingConfig   `mapstructure:"healing" yaml:"healing"`
	Risk      RiskConfig      `mapstructure:"risk" yaml:"risk"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Logging   logging.Config  `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Archive   ArchiveConfig   `mapstructure:"archive" yaml:"archive"`
}

type ScoringConfig struct {
	CarePresence      float64 `mapstructure:"care_presence" yaml:"care_presence"`
	CareLength        float64 `mapstructure:"care_length" yaml:"care_length"`
	CareMentions      float64 `mapstructure:"care_mentions" yaml:"care_mentions"`
	CareMinWords      float64 `mapstructure:"care_min_words" yaml:"care_min_words"`
	CareWordsPerParam float64 `mapstructure:"care_words_per_param" yaml:"care_words_per_param"`
	ResilienceBase    float64 `mapstructure:"resilience_base" yaml:"resilience_base"`
	Weighting         string  `mapstructure:"weighting" yaml:"weighting"` // "complexity" or "uniform"
}

type PhaseConfig struct {
	Entropic    float64 `mapstructure:"entropic" yaml:"entropic"`
	Autopoietic float64 `mapstructure:"autopoietic" yaml:"autopoietic"`
	CareFloor   float64 `mapstructure:"care_floor" yaml:"care_floor"`
}

type DiagnosisConfig struct {
	Threshold float64  `mapstructure:"threshold" yaml:"threshold"`
	Priority  []string `mapstructure:"priority" yaml:"priority"`
}

type RhythmConfig struct {
	Cycles       int      `mapstructure:"cycles" yaml:"cycles"`
	Order        []string `mapstructure:"order" yaml:"order"`
	Synchronized float64  `mapstructure:"synchronized" yaml:"synchronized"`
	Oscillating  float64  `mapstructure:"oscillating" yaml:"oscillating"`
	Workers      int      `mapstructure:"workers" yaml:"workers"`
}

type SelectionConfig struct {
	Mode       string             `mapstructure:"mode" yaml:"mode"` // "below-floor" or "all"
	Floors     map[string]float64 `mapstructure:"floors" yaml:"floors"`
	MaxPerFile int                `mapstructure:"max_per_file" yaml:"max_per_file"`
}

type HealingConfig struct {
	CareAdequacy   float64 `mapstructure:"care_adequacy" yaml:"care_adequacy"`
	ResilienceMode string  `mapstructure:"resilience_mode" yaml:"resilience_mode"` // "reraise", "wrap" or "default"
	IndentUnit     string  `mapstructure:"indent_unit" yaml:"indent_unit"`
}

type RiskConfig struct {
	IOCalls         []string `mapstructure:"io_calls" yaml:"io_calls"`
	IOMethods       []string `mapstructure:"io_methods" yaml:"io_methods"`
	ConversionCalls []string `mapstructure:"conversion_calls" yaml:"conversion_calls"`
}

type DiscoveryConfig struct {
	Include      []string `mapstructure:"include" yaml:"include"`
	Exclude      []string `mapstructure:"exclude" yaml:"exclude"`
	MaxFileSize  int64    `mapstructure:"max_file_size" yaml:"max_file_size"`
	IncludeTests bool     `mapstructure:"include_tests" yaml:"include_tests"`
}

type CacheConfig struct {
	Size int `mapstructure:"size" yaml:"size"`
}

type MetricsConfig struct {
	// Textfile is written after each run when set.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Default returns default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	so := score.DefaultOptions()
	po := parse.DefaultOptions()
	ho := heal.DefaultOptions()
	b := phase.DefaultBoundaries()
	th := rhythm.DefaultThresholds()

	return &Config{
		Scoring: ScoringConfig{
			CarePresence:      so.Care.Presence,
			CareLength:        so.Care.Length,
			CareMentions:      so.Care.Mentions,
			CareMinWords:      so.Care.MinWords,
			CareWordsPerParam: so.Care.WordsPerParam,
			ResilienceBase:    so.ResilienceBase,
			Weighting:         string(so.Weighting),
		},
		Phase: PhaseConfig{Entropic: b.Entropic, Autopoietic: b.Autopoietic, CareFloor: b.CareFloor},
		Diagnosis: DiagnosisConfig{
			Threshold: 0.7,
			Priority:  names(diagnose.DefaultPriority),
		},
		Rhythm: RhythmConfig{
			Cycles:       8,
			Order:        names(rhythm.DefaultOrder),
			Synchronized: th.Synchronized,
			Oscillating:  th.Oscillating,
		},
		Selection: SelectionConfig{
			Mode: string(ranking.BelowFloor),
			Floors: map[string]float64{
				"care":          0.7,
				"validation":    0.7,
				"resilience":    0.7,
				"observability": 0.7,
			},
		},
		Healing: HealingConfig{
			CareAdequacy:   ho.CareAdequacy,
			ResilienceMode: string(ho.ResilienceMode),
			IndentUnit:     ho.IndentUnit,
		},
		Risk: RiskConfig{
			IOCalls:         po.IOCalls,
			IOMethods:       po.IOMethods,
			ConversionCalls: po.ConversionCalls,
		},
		Discovery: DiscoveryConfig{MaxFileSize: 1_000_000},
		Cache:     CacheConfig{Size: analyze.DefaultOptions().CacheSize},
		Logging:   logging.DefaultConfig(),
		Archive: ArchiveConfig{
			Enabled: true,
			Path:    filepath.Join(homeDir, ".codeheal", "sessions.db"),
		},
	}
}

func names(dims []model.Dimension) []string {
	out := make([]string, len(dims))
	for i, d := range dims {
		out[i] = d.String()
	}
	return out
}

// Load loads configuration from path, or from the first config found in
// ./.codeheal.yaml, ./.codeheal/config.yaml and ~/.codeheal/config.yaml.
// A missing config file is not an error. The result is validated.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	if err := setDefaults(v, cfg); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("CODEHEAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case path != "":
		v.SetConfigFile(path)
	case fileExists(FileName):
		v.SetConfigFile(FileName)
	default:
		v.SetConfigName("config")
		v.AddConfigPath(".codeheal")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".codeheal"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Archive.Path = expandPath(cfg.Archive.Path)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Metrics.Textfile = expandPath(cfg.Metrics.Textfile)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every leaf of cfg so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("decoding defaults: %w", err)
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok && key != "selection.floors" {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if fileExists(file) {
			_ = godotenv.Load(file)
		}
	}
	homeDir, _ := os.UserHomeDir()
	if home := filepath.Join(homeDir, ".codeheal", ".env"); fileExists(home) {
		_ = godotenv.Load(home)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[1:])
}

const header = "# codeheal configuration. Every key can be overridden with CODEHEAL_<SECTION>_<KEY>.\n"

// YAML encodes cfg as a commented YAML document.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return append([]byte(header), data...), nil
}

// Save writes cfg as YAML to path.
func (c *Config) Save(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Validate checks ranges and names across every section.
func (c *Config) Validate() error {
	if err := c.ScoringOptions().Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := c.Boundaries().Validate(); err != nil {
		return fmt.Errorf("phase: %w", err)
	}
	if c.Diagnosis.Threshold < 0 || c.Diagnosis.Threshold > 1 {
		return fmt.Errorf("diagnosis threshold %v outside [0,1]", c.Diagnosis.Threshold)
	}
	priority, err := dimensions(c.Diagnosis.Priority)
	if err != nil {
		return fmt.Errorf("diagnosis priority: %w", err)
	}
	if err := diagnose.ValidatePriority(priority); err != nil {
		return fmt.Errorf("diagnosis: %w", err)
	}
	if err := c.validateRhythm(); err != nil {
		return fmt.Errorf("rhythm: %w", err)
	}
	if _, err := c.Selector(); err != nil {
		return fmt.Errorf("selection: %w", err)
	}
	if c.Healing.CareAdequacy < 0 || c.Healing.CareAdequacy > 1 {
		return fmt.Errorf("healing care adequacy %v outside [0,1]", c.Healing.CareAdequacy)
	}
	switch heal.ResilienceMode(c.Healing.ResilienceMode) {
	case heal.Reraise, heal.Wrap, heal.ReturnNone:
	default:
		return fmt.Errorf("healing resilience mode %q (want reraise, wrap or default)", c.Healing.ResilienceMode)
	}
	if strings.Trim(c.Healing.IndentUnit, " \t") != "" || c.Healing.IndentUnit == "" {
		return fmt.Errorf("healing indent unit must be spaces or tabs")
	}
	if err := discover.ValidatePatterns(c.Discovery.Include); err != nil {
		return fmt.Errorf("discovery include: %w", err)
	}
	if err := discover.ValidatePatterns(c.Discovery.Exclude); err != nil {
		return fmt.Errorf("discovery exclude: %w", err)
	}
	if c.Discovery.MaxFileSize < 0 {
		return fmt.Errorf("discovery max file size must be non-negative")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("archive path required when archive is enabled")
	}
	return nil
}

func (c *Config) validateRhythm() error {
	r := c.Rhythm
	if r.Cycles < 0 {
		return fmt.Errorf("cycles must be non-negative")
	}
	order, err := dimensions(r.Order)
	if err != nil {
		return fmt.Errorf("order: %w", err)
	}
	seen := make(map[model.Dimension]bool)
	for _, d := range order {
		seen[d] = true
	}
	for _, d := range model.AllDimensions() {
		if !seen[d] {
			return fmt.Errorf("order must include %s", d)
		}
	}
	if r.Synchronized < 0 || r.Synchronized > r.Oscillating {
		return fmt.Errorf("thresholds must satisfy 0 <= synchronized (%v) <= oscillating (%v)", r.Synchronized, r.Oscillating)
	}
	if r.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}
	return nil
}

func dimensions(ss []string) ([]model.Dimension, error) {
	out := make([]model.Dimension, 0, len(ss))
	for _, s := range ss {
		d, err := model.ParseDimension(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// SetFloor parses "dimension=value" and overrides that floor.
func (c *Config) SetFloor(spec string) error {
	name, value, ok := strings.Cut(spec, "=")
	if !ok {
		return fmt.Errorf("floor %q: want dimension=value", spec)
	}
	d, err := model.ParseDimension(name)
	if err != nil {
		return fmt.Errorf("floor %q: %w", spec, err)
	}
	var f float64
	if _, err := fmt.Sscanf(strings.TrimSpace(value), "%g", &f); err != nil {
		return fmt.Errorf("floor %q: bad value", spec)
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("floor %q: value outside [0,1]", spec)
	}
	if c.Selection.Floors == nil {
		c.Selection.Floors = make(map[string]float64)
	}
	c.Selection.Floors[d.String()] = f
	return nil
}

// ScoringOptions converts the scoring section.
func (c *Config) ScoringOptions() score.Options {
	s := c.Scoring
	return score.Options{
		Care: score.CareWeights{
			Presence:      s.CarePresence,
			Length:        s.CareLength,
			Mentions:      s.CareMentions,
			MinWords:      s.CareMinWords,
			WordsPerParam: s.CareWordsPerParam,
		},
		ResilienceBase: s.ResilienceBase,
		Weighting:      score.Weighting(s.Weighting),
	}
}

// ParseOptions converts the risk vocabulary.
func (c *Config) ParseOptions() parse.Options {
	return parse.Options{
		IOCalls:         c.Risk.IOCalls,
		IOMethods:       c.Risk.IOMethods,
		ConversionCalls: c.Risk.ConversionCalls,
	}
}

// Boundaries converts the phase section.
func (c *Config) Boundaries() phase.Boundaries {
	return phase.Boundaries{Entropic: c.Phase.Entropic, Autopoietic: c.Phase.Autopoietic, CareFloor: c.Phase.CareFloor}
}

// Classifier builds the phase classifier. Call after Validate.
func (c *Config) Classifier() phase.Classifier {
	priority, _ := dimensions(c.Diagnosis.Priority)
	return phase.Classifier{
		Boundaries: c.Boundaries(),
		Scoring:    c.ScoringOptions(),
		Diagnoser:  diagnose.Diagnoser{Threshold: c.Diagnosis.Threshold, Priority: priority},
	}
}

// AnalyzeOptions converts the cache, risk and worker settings.
func (c *Config) AnalyzeOptions() analyze.Options {
	return analyze.Options{Parse: c.ParseOptions(), CacheSize: c.Cache.Size, Workers: c.Rhythm.Workers}
}

// HealOptions converts the healing section.
func (c *Config) HealOptions() heal.Options {
	return heal.Options{
		Scoring:        c.ScoringOptions(),
		Parse:          c.ParseOptions(),
		CareAdequacy:   c.Healing.CareAdequacy,
		ResilienceMode: heal.ResilienceMode(c.Healing.ResilienceMode),
		IndentUnit:     c.Healing.IndentUnit,
	}
}

// DiscoverOptions converts the discovery section.
func (c *Config) DiscoverOptions() discover.Options {
	return discover.Options{
		Include:      c.Discovery.Include,
		Exclude:      c.Discovery.Exclude,
		MaxFileSize:  c.Discovery.MaxFileSize,
		IncludeTests: c.Discovery.IncludeTests,
	}
}

// Selector converts the selection section.
func (c *Config) Selector() (ranking.Selector, error) {
	mode, err := ranking.ParseMode(c.Selection.Mode)
	if err != nil {
		return ranking.Selector{}, err
	}
	if c.Selection.MaxPerFile < 0 {
		return ranking.Selector{}, fmt.Errorf("max per file must be non-negative")
	}
	keys := make([]string, 0, len(c.Selection.Floors))
	for k := range c.Selection.Floors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	floors := make(map[model.Dimension]float64, len(keys))
	for _, k := range keys {
		d, err := model.ParseDimension(k)
		if err != nil {
			return ranking.Selector{}, fmt.Errorf("floors: %w", err)
		}
		f := c.Selection.Floors[k]
		if f < 0 || f > 1 {
			return ranking.Selector{}, fmt.Errorf("floor for %s %v outside [0,1]", d, f)
		}
		floors[d] = f
	}
	return ranking.Selector{Mode: mode, Floors: floors, Scoring: c.ScoringOptions(), MaxPerFile: c.Selection.MaxPerFile}, nil
}

// RhythmOptions builds orchestrator options. Call after Validate.
func (c *Config) RhythmOptions(dryRun bool) rhythm.Options {
	order, _ := dimensions(c.Rhythm.Order)
	sel, _ := c.Selector()
	return rhythm.Options{
		Order:      order,
		Selector:   sel,
		Discover:   c.DiscoverOptions(),
		Classifier: c.Classifier(),
		Thresholds: rhythm.Thresholds{Synchronized: c.Rhythm.Synchronized, Oscillating: c.Rhythm.Oscillating},
		Workers:    c.Rhythm.Workers,
		DryRun:     dryRun,
	}
}
