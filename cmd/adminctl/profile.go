package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const envProfile = "ADMINCTL_CONFIG"

// profile is the CLI connection profile.
// Priority: flags > ENV > YAML > env-default tags.
type profile struct {
	ServiceURL string        `yaml:"service_url" env:"ADMINCTL_SERVICE_URL" env-default:"http://localhost:8080"`
	Token      string        `yaml:"token" env:"ADMINCTL_TOKEN"`
	Actor      string        `yaml:"actor" env:"ADMINCTL_ACTOR"`
	Timeout    time.Duration `yaml:"timeout" env:"ADMINCTL_TIMEOUT" env-default:"10s"`
	// Local selects the fallback bus stored at this path instead of the service.
	Local string `yaml:"local" env:"ADMINCTL_LOCAL"`
}

func defaultProfilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "adminctl.yml")
}

// loadProfile reads path (or ADMINCTL_CONFIG, or the default location).
// A missing file is only an error when it was named explicitly.
func loadProfile(path string) (*profile, error) {
	var p profile

	explicit := path != ""
	if !explicit {
		if env := os.Getenv(envProfile); env != "" {
			path, explicit = env, true
		} else {
			path = defaultProfilePath()
		}
	}

	if _, err := os.Stat(path); path != "" && err == nil {
		if err := cleanenv.ReadConfig(path, &p); err != nil {
			return nil, fmt.Errorf("profile: read %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("profile: file %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&p); err != nil {
		return nil, fmt.Errorf("profile: read env: %w", err)
	}

	if p.Timeout <= 0 {
		return nil, fmt.Errorf("profile: timeout must be positive")
	}
	return &p, nil
}
