package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EffectiveConfigResult is the merged view of file, env and flags that
// the rest of the application consumes.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	// Source summarizes where values came from ("flags", "env", "config").
	Source string
}

// ParseCommandFlags parses the server's command-line flags and reports
// which were explicitly set, so flags can win over env and file values.
func ParseCommandFlags() (addr, db, cfgPath string, set map[string]bool) {
	addrFlag := flag.String("addr", ":8090", "listen address")
	dbFlag := flag.String("db", "./data", "database path")
	cfgFlag := flag.String("config", "", "path to config file")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, set
}

// ResolveConfigPath picks the config file path: an explicit flag wins,
// then CHATRELAY_CONFIG, then ./chatrelay.yaml if it exists.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if p := strings.TrimSpace(os.Getenv("CHATRELAY_CONFIG")); p != "" {
		return p
	}
	if _, err := os.Stat("chatrelay.yaml"); err == nil {
		return "chatrelay.yaml"
	}
	return ""
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("no config path provided")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &c, nil
}

// LoadEffective merges config file and environment. Missing file is not
// an error; env vars override file values; flags are applied by the
// caller on top.
func LoadEffective(path string) (EffectiveConfigResult, error) {
	cfg := &Config{}
	sources := []string{}
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return EffectiveConfigResult{}, err
			}
		} else {
			cfg = loaded
			sources = append(sources, "config")
		}
	}

	envUsed := false
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_SERVER_ADDRESS")); v != "" {
		cfg.Server.Address = v
		envUsed = true
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_SERVER_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
			envUsed = true
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_DB_PATH")); v != "" {
		cfg.Server.DBPath = v
		envUsed = true
	}
	if v := strings.TrimSpace(os.Getenv("CHATRELAY_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
		envUsed = true
	}
	if envUsed {
		sources = append(sources, "env")
	}

	return EffectiveConfigResult{
		Config: cfg,
		Addr:   cfg.Addr(),
		DBPath: cfg.Server.DBPath,
		Source: strings.Join(sources, ", "),
	}, nil
}
