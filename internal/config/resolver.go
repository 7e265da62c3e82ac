// Package config resolves fidelis settings from its three layers: the YAML
// config file, FIDELIS_* environment variables, and CLI flags, in rising
// precedence. Every resolved value remembers where it came from so the
// `config` command can show provenance.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath   string
	CLIEmbed     string
	CLIDBPath    string
	CLIThreshold string
	CLIRules     string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath    ResolvedValue `json:"db_path"`
	RulesPath ResolvedValue `json:"rules_path"`

	EmbedProvider ResolvedValue `json:"embed_provider"`
	EmbedEndpoint ResolvedValue `json:"embed_endpoint"`
	EmbedAPIKey   ResolvedValue `json:"embed_api_key"`

	Threshold         ResolvedValue `json:"dedup_threshold"`
	JaccardWeight     ResolvedValue `json:"jaccard_weight"`
	LevenshteinWeight ResolvedValue `json:"levenshtein_weight"`
	SemanticWeight    ResolvedValue `json:"semantic_weight"`

	StrictValidation ResolvedValue `json:"strict_validation"`
	PreciseValues    ResolvedValue `json:"precise_values"`
}

type fileConfig struct {
	DBPath    string `yaml:"db_path"`
	RulesPath string `yaml:"rules_path"`
	Embed     struct {
		Provider string `yaml:"provider"`
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"embed"`
	Similarity struct {
		Jaccard     *float64 `yaml:"jaccard"`
		Levenshtein *float64 `yaml:"levenshtein"`
		Semantic    *float64 `yaml:"semantic"`
	} `yaml:"similarity"`
	Dedup struct {
		Threshold *float64 `yaml:"threshold"`
	} `yaml:"dedup"`
	Quality struct {
		StrictValidation *bool `yaml:"strict_validation"`
		PreciseValues    *bool `yaml:"precise_values"`
	} `yaml:"quality"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fidelis", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.RulesPath, cfg.RulesPath, SourceConfig, path)
		apply(&out.EmbedProvider, cfg.Embed.Provider, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)
		if key := strings.TrimSpace(cfg.Embed.APIKey); key != "" {
			out.EmbedAPIKey = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}

		applyFloat(&out.Threshold, cfg.Dedup.Threshold, path)
		applyFloat(&out.JaccardWeight, cfg.Similarity.Jaccard, path)
		applyFloat(&out.LevenshteinWeight, cfg.Similarity.Levenshtein, path)
		applyFloat(&out.SemanticWeight, cfg.Similarity.Semantic, path)
		applyBool(&out.StrictValidation, cfg.Quality.StrictValidation, path)
		applyBool(&out.PreciseValues, cfg.Quality.PreciseValues, path)
	}

	applyEnv(&out.DBPath, "FIDELIS_DB")
	applyEnv(&out.RulesPath, "FIDELIS_RULES")
	applyEnv(&out.EmbedProvider, "FIDELIS_EMBED")
	applyEnv(&out.EmbedEndpoint, "FIDELIS_EMBED_ENDPOINT")
	if v := strings.TrimSpace(os.Getenv("FIDELIS_EMBED_API_KEY")); v != "" {
		out.EmbedAPIKey = ResolvedValue{Value: v, Source: SourceEnv, From: "FIDELIS_EMBED_API_KEY"}
	}
	applyEnv(&out.Threshold, "FIDELIS_THRESHOLD")
	applyEnv(&out.StrictValidation, "FIDELIS_STRICT")
	applyEnv(&out.PreciseValues, "FIDELIS_PRECISE")

	apply(&out.EmbedProvider, opts.CLIEmbed, SourceCLI, "--embed")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Threshold, opts.CLIThreshold, SourceCLI, "--threshold")
	apply(&out.RulesPath, opts.CLIRules, SourceCLI, "--rules")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	if out.RulesPath.Value != "" {
		out.RulesPath.Value = expandUserPath(out.RulesPath.Value)
	}

	return out, nil
}

// ThresholdValue parses the dedup threshold, returning fallback when unset.
func (r ResolvedConfig) ThresholdValue(fallback float64) (float64, error) {
	return floatValue(r.Threshold, fallback)
}

// WeightValues parses the similarity weights. All three must be set
// together; when none are set the fallbacks are returned unchanged.
func (r ResolvedConfig) WeightValues(jac, lev, sem float64) (float64, float64, float64, error) {
	set := 0
	for _, v := range []ResolvedValue{r.JaccardWeight, r.LevenshteinWeight, r.SemanticWeight} {
		if strings.TrimSpace(v.Value) != "" {
			set++
		}
	}
	if set == 0 {
		return jac, lev, sem, nil
	}
	if set != 3 {
		return 0, 0, 0, fmt.Errorf("similarity weights must be configured together (jaccard, levenshtein, semantic)")
	}

	var err error
	if jac, err = floatValue(r.JaccardWeight, 0); err != nil {
		return 0, 0, 0, err
	}
	if lev, err = floatValue(r.LevenshteinWeight, 0); err != nil {
		return 0, 0, 0, err
	}
	if sem, err = floatValue(r.SemanticWeight, 0); err != nil {
		return 0, 0, 0, err
	}
	return jac, lev, sem, nil
}

// BoolValue parses a resolved boolean, returning fallback when unset.
func (r ResolvedValue) BoolValue(fallback bool) (bool, error) {
	v := strings.TrimSpace(r.Value)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q from %s: %w", v, r.From, err)
	}
	return parsed, nil
}

func floatValue(r ResolvedValue, fallback float64) (float64, error) {
	v := strings.TrimSpace(r.Value)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q from %s: %w", v, r.From, err)
	}
	return parsed, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyFloat(dst *ResolvedValue, raw *float64, from string) {
	if raw == nil {
		return
	}
	*dst = ResolvedValue{Value: strconv.FormatFloat(*raw, 'f', -1, 64), Source: SourceConfig, From: from}
}

func applyBool(dst *ResolvedValue, raw *bool, from string) {
	if raw == nil {
		return
	}
	*dst = ResolvedValue{Value: strconv.FormatBool(*raw), Source: SourceConfig, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
