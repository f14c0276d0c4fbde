package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExampleYAML renders the default configuration as a starter config
// file. Keys mirror the mapstructure tags the loader reads.
func ExampleYAML() ([]byte, error) {
	defaults := Default()
	doc := map[string]interface{}{
		"server": map[string]interface{}{
			"host":        defaults.Server.Host,
			"port":        defaults.Server.Port,
			"enable_cors": defaults.Server.EnableCORS,
		},
		"data": map[string]interface{}{
			"dir": defaults.Data.Dir,
		},
		"generator": map[string]interface{}{
			"api_key": "",
			"model":   defaults.Generator.Model,
		},
		"verify": map[string]interface{}{
			"command": defaults.Verify.Command,
			"timeout": defaults.Verify.Timeout.String(),
		},
		"gates": map[string]interface{}{
			"selection_timeout": defaults.Gates.SelectionTimeout.String(),
			"approval_timeout":  defaults.Gates.ApprovalTimeout.String(),
			"poll_interval":     defaults.Gates.PollInterval.String(),
		},
		"log": map[string]interface{}{
			"level":  defaults.Log.Level,
			"format": defaults.Log.Format,
		},
	}
	return yaml.Marshal(doc)
}

// WriteExample writes the starter config, refusing to overwrite an
// existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	data, err := ExampleYAML()
	if err != nil {
		return fmt.Errorf("rendering example config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing example config: %w", err)
	}
	return nil
}
