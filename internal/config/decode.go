package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	In        string
	Out       string
	Errors    string
	ABIPreset string
	ABIFile   string
	PGDSN     string
	Source    string
	Resume    bool
	BatchSize int
	LogLevel  string
}

// RunConfig holds configuration for the run command: decode settings plus the lens module.
type RunConfig struct {
	DecodeConfig
	Lens             string
	MemoryLimitPages uint32
}

var decodeDefaults = map[string]interface{}{
	"out":        "./data/decoded_topics.jsonl",
	"errors":     "./data/decode_errors.jsonl",
	"batch-size": 500,
	"resume":     false,
	"log-level":  "info",
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := load(cfgFile, flags, decodeDefaults)
	if err != nil {
		return DecodeConfig{}, err
	}
	return decodeFrom(v), nil
}

// LoadRun merges config file, environment variables, and flags into RunConfig.
func LoadRun(cfgFile string, flags *pflag.FlagSet) (RunConfig, error) {
	defaults := make(map[string]interface{}, len(decodeDefaults)+1)
	for k, val := range decodeDefaults {
		defaults[k] = val
	}
	defaults["memory-limit-pages"] = uint32(256)

	v, err := load(cfgFile, flags, defaults)
	if err != nil {
		return RunConfig{}, err
	}

	return RunConfig{
		DecodeConfig:     decodeFrom(v),
		Lens:             v.GetString("lens"),
		MemoryLimitPages: v.GetUint32("memory-limit-pages"),
	}, nil
}

func decodeFrom(v *viper.Viper) DecodeConfig {
	cfg := DecodeConfig{
		In:        v.GetString("in"),
		Out:       v.GetString("out"),
		Errors:    v.GetString("errors"),
		ABIPreset: v.GetString("abi-preset"),
		ABIFile:   v.GetString("abi-file"),
		PGDSN:     v.GetString("pg-dsn"),
		Source:    v.GetString("source"),
		Resume:    v.GetBool("resume"),
		BatchSize: v.GetInt("batch-size"),
		LogLevel:  v.GetString("log-level"),
	}
	if cfg.Source == "" && cfg.In != "" {
		cfg.Source = filepath.Base(cfg.In)
	}
	return cfg
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
