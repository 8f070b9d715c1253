package worker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"quotarun/internal/config"
)

// BuildEnv layers the worker environment over base: dotenv file values, then
// the configured env table, then proxy variables. Later layers win.
func BuildEnv(base []string, cfg config.Worker) ([]string, error) {
	overrides := map[string]string{}

	if path := strings.TrimSpace(cfg.EnvFile); path != "" {
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("read worker env file %s: %w", path, err)
		}
		for key, value := range values {
			overrides[key] = value
		}
	}
	for key, value := range cfg.Env {
		if key = strings.TrimSpace(key); key != "" {
			overrides[key] = value
		}
	}
	if proxy := strings.TrimSpace(cfg.ProxyURL); proxy != "" {
		for _, key := range []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "http_proxy", "https_proxy", "all_proxy"} {
			overrides[key] = proxy
		}
	}
	if noProxy := strings.TrimSpace(cfg.NoProxy); noProxy != "" {
		overrides["NO_PROXY"] = noProxy
		overrides["no_proxy"] = noProxy
	}

	return mergeEnv(base, overrides), nil
}

func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		key, _, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		if _, replaced := overrides[key]; replaced {
			continue
		}
		env = append(env, entry)
	}
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+overrides[key])
	}
	return env
}
