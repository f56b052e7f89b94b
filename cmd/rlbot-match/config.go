package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

type appConfig struct {
	configPath  string
	exeName     string
	exeDir      string
	logFormat   string
	logLevel    string
	metricsAddr string
	wait        bool
	keepServer  bool
	connectTO   time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	configPath := flag.String("config", "", "Path to the match configuration file (required)")
	exeName := flag.String("exe-name", "", "Server executable image name (default per platform)")
	exeDir := flag.String("exe-dir", "", "Server executable path or directory to search (default cwd)")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	wait := flag.Bool("wait", true, "Block until the match has started")
	keepServer := flag.Bool("keep-server", false, "Leave the server running on exit")
	connectTO := flag.Duration("connect-timeout", 2*time.Minute, "Bridge connection timeout")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.configPath = *configPath
	cfg.exeName = *exeName
	cfg.exeDir = *exeDir
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.wait = *wait
	cfg.keepServer = *keepServer
	cfg.connectTO = *connectTO

	applyEnvOverrides(cfg, setFlags)
	if *showVersion {
		return nil, true
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, false
	}
	return cfg, false
}

// validate performs basic semantic validation of the parsed configuration.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.configPath == "" {
		return errors.New("missing -config (or RLBOT_MATCH_CONFIG)")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.connectTO <= 0 {
		return errors.New("connect-timeout must be > 0")
	}
	return nil
}

// applyEnvOverrides maps RLBOT_* environment variables to config fields
// unless a corresponding flag was explicitly set.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) {
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["config"]; !ok {
		if v, ok := get("RLBOT_MATCH_CONFIG"); ok && v != "" {
			c.configPath = v
		}
	}
	if _, ok := set["exe-name"]; !ok {
		if v, ok := get("RLBOT_EXE_NAME"); ok && v != "" {
			c.exeName = v
		}
	}
	if _, ok := set["exe-dir"]; !ok {
		if v, ok := get("RLBOT_EXE_DIR"); ok && v != "" {
			c.exeDir = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("RLBOT_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("RLBOT_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("RLBOT_METRICS"); ok {
			c.metricsAddr = v
		}
	}
}
