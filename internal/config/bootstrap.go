package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadBootstrap overlays the deployment YAML onto cfg. The bootstrap file
// carries static values (broker endpoint, storage roots, diag address); the
// runtime JSON file carries the operator-editable tunables.
func loadBootstrap(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read bootstrap config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse bootstrap config %s: %w", path, err)
	}
	return nil
}
