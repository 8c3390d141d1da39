// Package config reads runtime settings from EDGEDL_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/born-ml/edgedl/internal/parallel"
)

// Var returns an environment variable stripped of whitespace and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// BoolWithDefault returns a getter for a boolean variable. A set but
// unparsable value counts as true.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Uint returns a getter for an unsigned integer variable.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				klog.InfoS("Invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

var (
	// MinParallel is the smallest output, in elements, that operators split
	// across both cores.
	MinParallel = Uint("EDGEDL_MIN_PARALLEL", 64)
	// Cores limits the execution contexts used by the dispatcher.
	Cores = Uint("EDGEDL_CORES", parallel.MaxCores)
	// VerifyChecksum checks the descriptor data checksum on load.
	VerifyChecksum = func() bool { return BoolWithDefault("EDGEDL_VERIFY_CHECKSUM")(true) }
)

// RuntimeMode returns the invocation mode set by EDGEDL_RUNTIME_MODE.
func RuntimeMode() parallel.Mode {
	s := Var("EDGEDL_RUNTIME_MODE")
	mode, err := parallel.ParseMode(s)
	if err != nil {
		klog.InfoS("Invalid environment variable, using default", "key", "EDGEDL_RUNTIME_MODE", "value", s, "default", parallel.ModeAuto)
		return parallel.ModeAuto
	}
	return mode
}

// LogVerbosity returns the klog verbosity set by EDGEDL_DEBUG.
// Values: 0/false = quiet (default), 1/true = load summaries, 2 = per-operator dispatch.
func LogVerbosity() int {
	s := Var("EDGEDL_DEBUG")
	if s == "" {
		return 0
	}
	if b, err := strconv.ParseBool(s); err == nil {
		if b {
			return 1
		}
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return 0
}

// Parallel returns the dispatcher configuration from the environment.
func Parallel() parallel.Config {
	cfg := parallel.DefaultConfig()
	cfg.MinChunkSize = int(MinParallel())
	cfg.Cores = int(Cores())
	return cfg
}

// EnvVar describes one environment variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every setting with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"EDGEDL_RUNTIME_MODE":    {"EDGEDL_RUNTIME_MODE", RuntimeMode(), "Operator dispatch mode: single or dual (default dual)"},
		"EDGEDL_MIN_PARALLEL":    {"EDGEDL_MIN_PARALLEL", MinParallel(), "Smallest output in elements split across cores (default 64)"},
		"EDGEDL_CORES":           {"EDGEDL_CORES", Cores(), "Execution cores used by the dispatcher, 1 or 2 (default 2)"},
		"EDGEDL_VERIFY_CHECKSUM": {"EDGEDL_VERIFY_CHECKSUM", VerifyChecksum(), "Verify the model data checksum on load (default true)"},
		"EDGEDL_DEBUG":           {"EDGEDL_DEBUG", LogVerbosity(), "Log verbosity: 1 for load summaries, 2 for operator dispatch"},
	}
}

// Values returns every setting formatted as a string.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
