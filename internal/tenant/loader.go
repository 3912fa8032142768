package tenant

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// registryFile is the on-disk shape of tenants.yaml.
type registryFile struct {
	Tenants []Tenant `yaml:"tenants"`
}

// LoadFile reads a tenant registry from a YAML file. Duplicate tenant IDs
// and duplicate API keys are rejected so a key can never resolve to two
// tenants.
func LoadFile(path string) ([]Tenant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tenant registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing tenant registry: %w", err)
	}

	seenIDs := make(map[string]bool)
	seenKeys := make(map[string]bool)
	for _, t := range file.Tenants {
		if t.ID == "" {
			return nil, errors.New("tenant registry: tenant with empty id")
		}
		if seenIDs[t.ID] {
			return nil, fmt.Errorf("tenant registry: duplicate tenant id %q", t.ID)
		}
		seenIDs[t.ID] = true
		if t.APIKey != "" {
			if seenKeys[t.APIKey] {
				return nil, fmt.Errorf("tenant registry: duplicate api key (tenant %q)", t.ID)
			}
			seenKeys[t.APIKey] = true
		}
	}
	return file.Tenants, nil
}
