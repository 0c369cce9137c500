package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/turnstile_agent/internal/solver"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Modes select how tabs get handed to the solver.
const (
	// ModeRelay waits for the challenge page to announce itself.
	ModeRelay = "relay"
	// ModePoll starts a loop on every discovered tab.
	ModePoll = "poll"
)

// Config holds all configuration for the turnstile agent.
type Config struct {
	// CDP connection settings
	CDPAddress      string
	CDPPort         int
	ProtocolVersion string

	// Control API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Solving behavior
	Mode             string
	PolicyName       string
	PolicyFile       string
	Policy           solver.Policy
	AttachAttempts   int
	AttachRetryDelay time.Duration
	AttachRate       float64
	MaxReattach      int

	DiscoveryInterval time.Duration
	SpoofScreen       bool
	RelayConfig       string

	// Browser launch
	LaunchBrowser     bool
	BrowserProfileDir string
	BrowserPath       string
	BrowserHeadless   bool
	BrowserStartURL   string

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		ProtocolVersion:   getEnvOrDefault("SOLVER_PROTOCOL_VERSION", "1.3"),
		BindAddr:          getEnvOrDefault("SOLVER_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:    getEnvListOrDefault("SOLVER_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback:  getEnvBoolOrDefault("SOLVER_PORT_AUTO_FALLBACK", true),
		Mode:              strings.ToLower(getEnvOrDefault("SOLVER_MODE", ModeRelay)),
		PolicyName:        strings.ToLower(os.Getenv("SOLVER_POLICY")),
		PolicyFile:        os.Getenv("SOLVER_POLICY_FILE"),
		AttachAttempts:    getEnvIntOrDefault("SOLVER_ATTACH_ATTEMPTS", 3),
		AttachRetryDelay:  getEnvMillisOrDefault("SOLVER_ATTACH_RETRY_MS", 2*time.Second),
		AttachRate:        getEnvFloatOrDefault("SOLVER_ATTACH_RATE", 4),
		MaxReattach:       getEnvIntOrDefault("SOLVER_MAX_REATTACH", 3),
		DiscoveryInterval: getEnvMillisOrDefault("SOLVER_DISCOVERY_INTERVAL_MS", 5*time.Second),
		SpoofScreen:       getEnvBoolOrDefault("SOLVER_SPOOF_SCREEN", true),
		RelayConfig:       os.Getenv("SOLVER_RELAY_CONFIG"),
		LaunchBrowser:     getEnvBoolOrDefault("SOLVER_LAUNCH_BROWSER", false),
		BrowserProfileDir: getEnvOrDefault("SOLVER_BROWSER_PROFILE_DIR", "./browser_profile"),
		BrowserPath:       os.Getenv("SOLVER_BROWSER_PATH"),
		BrowserHeadless:   getEnvBoolOrDefault("SOLVER_BROWSER_HEADLESS", false),
		BrowserStartURL:   getEnvOrDefault("SOLVER_BROWSER_START_URL", "about:blank"),
		LogLevel:          strings.ToLower(getEnvOrDefault("SOLVER_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("SOLVER_LOG_FILE", "logs/turnstile_agent.log"),
	}

	if cfg.Mode != ModeRelay && cfg.Mode != ModePoll {
		return nil, fmt.Errorf("SOLVER_MODE=%q: want %s or %s", cfg.Mode, ModeRelay, ModePoll)
	}
	if cfg.PolicyName == "" {
		cfg.PolicyName = "standard"
		if cfg.Mode == ModePoll {
			cfg.PolicyName = "unbounded"
		}
	}
	if cfg.AttachAttempts < 1 {
		cfg.AttachAttempts = 1
	}
	if cfg.MaxReattach < 0 {
		cfg.MaxReattach = 0
	}

	policy, err := LoadPolicy(cfg.PolicyName, cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy
	return cfg, nil
}

// LoadPolicy starts from the named preset and overlays the fields set in
// path, if any.
func LoadPolicy(name, path string) (solver.Policy, error) {
	policy, err := solver.Preset(name)
	if err != nil {
		return solver.Policy{}, fmt.Errorf("SOLVER_POLICY: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return solver.Policy{}, fmt.Errorf("policy file: %w", err)
		}
		if err := yaml.Unmarshal(data, &policy); err != nil {
			return solver.Policy{}, fmt.Errorf("policy file %s: %w", path, err)
		}
	}
	if err := policy.Validate(); err != nil {
		return solver.Policy{}, err
	}
	return policy, nil
}

// CDPURL returns the DevTools HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f >= 0 {
			return f
		}
	}
	return defaultVal
}

func getEnvMillisOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
