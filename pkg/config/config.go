// Package config loads runtime settings from the environment. Everything has
// a working default so `sentinel-node` starts with no configuration at all.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the runtime settings of a custody node.
type Config struct {
	Port            int
	BaseDir         string
	LogLevel        slog.Level
	EncryptEvidence bool
	UsersFile       string
	JWTSecret       string
	Jurisdiction    string
	EvidenceAct     string
	Standards       []string
	RateRPM         int
}

// Defaults mirrors a development deployment.
func Defaults() Config {
	return Config{
		Port:            8084,
		BaseDir:         ".",
		LogLevel:        slog.LevelInfo,
		EncryptEvidence: false,
		JWTSecret:       "sentinel-dev-secret",
		Jurisdiction:    "Republic of Kenya",
		EvidenceAct:     "Evidence Act (Cap. 80), Sections 78A, 106A, 106B",
		Standards:       []string{"ISO/IEC 27037:2012", "ISO/IEC 27043:2015"},
		RateRPM:         120,
	}
}

// FromEnv builds a Config from SENTINEL_* environment variables on top of
// the defaults.
func FromEnv() (Config, error) {
	cfg := Defaults()

	if v := os.Getenv("SENTINEL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return cfg, fmt.Errorf("config: invalid SENTINEL_PORT %q", v)
		}
		cfg.Port = port
	}
	if v := os.Getenv("SENTINEL_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err != nil {
			return cfg, fmt.Errorf("config: invalid SENTINEL_LOG_LEVEL %q", v)
		}
		cfg.LogLevel = lvl
	}
	if v := os.Getenv("SENTINEL_ENCRYPT_EVIDENCE"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid SENTINEL_ENCRYPT_EVIDENCE %q", v)
		}
		cfg.EncryptEvidence = on
	}
	if v := os.Getenv("SENTINEL_USERS_FILE"); v != "" {
		cfg.UsersFile = v
	}
	if v := os.Getenv("SENTINEL_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("SENTINEL_JURISDICTION"); v != "" {
		cfg.Jurisdiction = v
	}
	if v := os.Getenv("SENTINEL_EVIDENCE_ACT"); v != "" {
		cfg.EvidenceAct = v
	}
	if v := os.Getenv("SENTINEL_STANDARDS"); v != "" {
		var standards []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				standards = append(standards, s)
			}
		}
		cfg.Standards = standards
	}
	if v := os.Getenv("SENTINEL_RATE_RPM"); v != "" {
		rpm, err := strconv.Atoi(v)
		if err != nil || rpm < 1 {
			return cfg, fmt.Errorf("config: invalid SENTINEL_RATE_RPM %q", v)
		}
		cfg.RateRPM = rpm
	}

	return cfg, nil
}

// Derived paths under BaseDir. Data files live under data/, payloads under
// evidence_store/.

func (c Config) LedgerPath() string {
	return filepath.Join(c.BaseDir, "data", "ledger.jsonl")
}

func (c Config) DBPath() string {
	return filepath.Join(c.BaseDir, "data", "sentinel.db")
}

func (c Config) KeysDir() string {
	return filepath.Join(c.BaseDir, "data", "keys")
}

func (c Config) FernetKeyPath() string {
	return filepath.Join(c.KeysDir(), "evidence.fernet.key")
}

func (c Config) EvidenceDir() string {
	return filepath.Join(c.BaseDir, "evidence_store")
}

func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
