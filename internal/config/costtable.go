package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wark-project/wark/internal/cost"
)

// costOverrideFile is the on-disk shape of an optional cost-table override.
// Op values use the same encoding as internal/cost.Op: a plain opcode byte
// (0-255) for single-byte instructions, or prefix 0xFC000000 | sub-opcode
// for the bulk-memory family — see internal/cost/table.go for the full
// encoding and the built-in table it augments.
type costOverrideFile struct {
	Penalty   uint32 `yaml:"penalty"`
	Overrides []struct {
		Op   uint32 `yaml:"op"`
		Cost uint32 `yaml:"cost"`
	} `yaml:"overrides"`
}

// LoadCostTable returns the built-in base table, augmented by path if it is
// non-empty. An empty path is not an error; it simply means no override file
// was configured.
func LoadCostTable(path string) (*cost.Table, error) {
	base := cost.New()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read cost table override %s: %w", path, err)
	}

	var file costOverrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse cost table override %s: %w", path, err)
	}

	overrides := make(map[cost.Op]uint32, len(file.Overrides))
	for _, o := range file.Overrides {
		overrides[cost.Op(o.Op)] = o.Cost
	}

	return base.WithOverrides(overrides, file.Penalty), nil
}
