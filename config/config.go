package config

import (
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
)

type Path string

func (p Path) Join(elem ...string) Path {
	parts := append([]string{string(p)}, elem...)
	return Path(filepath.Join(parts...))
}

func (p Path) ToString() string {
	return string(p)
}

// Load reads the TOML file at path with environment overrides. A missing
// file is not an error: deployments that configure purely through the
// environment carry no config.toml at all.
func Load(path Path, cfg any) error {
	if _, err := os.Stat(path.ToString()); os.IsNotExist(err) {
		return cleanenv.ReadEnv(cfg)
	}
	return cleanenv.ReadConfig(path.ToString(), cfg)
}
