package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# apibusd configuration
# Keys left out fall back to built-in defaults.
`

// Render encodes cfg as a TOML document.
func Render(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(templateHeader)
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("config render failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Template is the rendered DefaultConfig.
func Template() ([]byte, error) {
	return Render(DefaultConfig())
}

func WriteTemplate(path string, overwrite bool) error {
	data, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, data, 0o600)
}
