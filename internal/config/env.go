package config

import (
	"os"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "JOBQ_"

// FromEnv overlays JOBQ_* environment variables onto cfg. Each key maps to
// JOBQ_<KEY> in upper case, e.g. JOBQ_COMPACT_THRESHOLD. Values that do not
// parse are ignored.
func FromEnv(cfg *Config) {
	fromLookup(cfg, os.LookupEnv)
}

func fromLookup(cfg *Config, lookup func(string) (string, bool)) {
	for _, key := range Keys() {
		v, ok := lookup(EnvPrefix + strings.ToUpper(key))
		if !ok || v == "" {
			continue
		}
		_ = cfg.set(key, v)
	}
}
