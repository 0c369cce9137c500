package relay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FilterConfig is the authorization boundary for relayed messages.
type FilterConfig struct {
	Origins     []string `yaml:"origins"`
	BeginTokens []string `yaml:"begin_tokens"`
	EndTokens   []string `yaml:"end_tokens"`
	Fields      []string `yaml:"fields"`
}

// DefaultFilterConfig accepts begin/end signals from the challenge host.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Origins:     []string{"https://challenges.cloudflare.com", "http://challenges.cloudflare.com"},
		BeginTokens: []string{"start", "interactiveBegin"},
		EndTokens:   []string{"stop", "interactiveEnd"},
		Fields:      []string{"action", "event"},
	}
}

// LoadFilterConfig reads a YAML file and fills unset lists from the defaults.
func LoadFilterConfig(path string) (FilterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FilterConfig{}, fmt.Errorf("relay config: %w", err)
	}
	var cfg FilterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FilterConfig{}, fmt.Errorf("relay config: %w", err)
	}
	def := DefaultFilterConfig()
	if len(cfg.Origins) == 0 {
		cfg.Origins = def.Origins
	}
	if len(cfg.BeginTokens) == 0 {
		cfg.BeginTokens = def.BeginTokens
	}
	if len(cfg.EndTokens) == 0 {
		cfg.EndTokens = def.EndTokens
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = def.Fields
	}
	for i, o := range cfg.Origins {
		if o == "" || o == "*" {
			return FilterConfig{}, fmt.Errorf("relay config: origins[%d] must be an exact origin", i)
		}
	}
	begin := make(map[string]bool, len(cfg.BeginTokens))
	for _, t := range cfg.BeginTokens {
		begin[t] = true
	}
	for _, t := range cfg.EndTokens {
		if begin[t] {
			return FilterConfig{}, fmt.Errorf("relay config: token %q is both a begin and an end token", t)
		}
	}
	return cfg, nil
}
