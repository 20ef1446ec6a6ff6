package node

import (
	"os"
	"path/filepath"
	"testing"

	"psgadget/pkg/config"
)

func TestDefaultConfigTemplateLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("default template does not load: %v", err)
	}
	if cfg.Radio.Port != 6565 || cfg.Serial.Baud != 9600 {
		t.Errorf("unexpected values: port=%d baud=%d", cfg.Radio.Port, cfg.Serial.Baud)
	}
	if !cfg.Serial.CommandsEnabled() {
		t.Error("commands should be enabled in the template")
	}
}
