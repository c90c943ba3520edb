package cellsheet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/crhntr/cellsheet/expression"
)

// Config represents a cellsheet.toml configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Workbook WorkbookConfig `toml:"workbook"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// WorkbookConfig configures the shape and mode of a new workbook.
type WorkbookConfig struct {
	Rows   int    `toml:"rows"`
	Cols   int    `toml:"cols"`
	Sheets int    `toml:"sheets"`
	Mode   string `toml:"mode"`
}

// DefaultConfig is the configuration used when no cellsheet.toml is
// present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Addr: "localhost:8080"},
		Workbook: WorkbookConfig{
			Rows:   100,
			Cols:   26,
			Sheets: 1,
			Mode:   expression.ModeReverseMixed.String(),
		},
	}
}

// LoadConfig parses a cellsheet.toml file from the given directory. A
// missing file yields the defaults.
func LoadConfig(dir string) (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(dir, "cellsheet.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.Workbook.Rows < 1 || cfg.Workbook.Cols < 1 || cfg.Workbook.Sheets < 1 {
		return fmt.Errorf("workbook shape must be at least 1x1 with one sheet")
	}
	if _, err := expression.ParseMode(cfg.Workbook.Mode); err != nil {
		return err
	}
	return nil
}

// NewWorkbook builds an in-memory workbook from the configured shape
// and expression mode.
func (cfg Config) NewWorkbook() (*Workbook, error) {
	mode, err := expression.ParseMode(cfg.Workbook.Mode)
	if err != nil {
		return nil, err
	}
	wb := New(cfg.Workbook.Rows, cfg.Workbook.Cols, cfg.Workbook.Sheets)
	wb.mode = mode
	return wb, nil
}
