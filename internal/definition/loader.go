package definition

import (
	"fmt"
	"os"

	"github.com/carlosprados/keeper/internal/validate"
	toml "github.com/pelletier/go-toml/v2"
)

type file struct {
	Servers []Definition `toml:"servers"`
}

// Load reads a servers.toml file. A missing file yields no definitions.
func Load(path string) ([]Definition, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes and validates servers.toml content.
func Parse(b []byte) ([]Definition, error) {
	var generic map[string]any
	if err := toml.Unmarshal(b, &generic); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	doc, err := validate.Normalize(generic)
	if err != nil {
		return nil, err
	}
	if err := validate.Definitions(doc); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	var f file
	if err := toml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	seen := make(map[string]bool, len(f.Servers))
	for _, d := range f.Servers {
		if seen[d.ID] {
			return nil, fmt.Errorf("invalid definitions: duplicate id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return f.Servers, nil
}

// Encode renders definitions as servers.toml content.
func Encode(defs []Definition) ([]byte, error) {
	return toml.Marshal(file{Servers: defs})
}
