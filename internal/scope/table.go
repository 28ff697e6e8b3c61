package scope

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v2"
)

// OrganizerEntry is one row of the organizer table.
type OrganizerEntry struct {
	Type       Kind `yaml:"type"`
	ProvinceID int  `yaml:"province_id"`
	ZoneID     int  `yaml:"zone_id"`
}

// Table is the externally maintained organizer to scope mapping.
type Table struct {
	Organizers      map[string]OrganizerEntry `yaml:"organizers"`
	Zones           map[int][]int             `yaml:"zones"`
	ExternalColumns []string                  `yaml:"external_columns"`
}

// LoadTable reads and validates a YAML scope table from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scope table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML scope table.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse scope table: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) validate() error {
	for code, e := range t.Organizers {
		switch e.Type {
		case KindCentral, KindExternal:
		case KindProvince:
			if e.ProvinceID <= 0 {
				return fmt.Errorf("organizer %q: province_id is required", code)
			}
		case KindZone:
			if e.ZoneID <= 0 {
				return fmt.Errorf("organizer %q: zone_id is required", code)
			}
		default:
			return fmt.Errorf("organizer %q: unsupported type %q", code, e.Type)
		}
	}
	if len(t.ExternalColumns) == 0 {
		return fmt.Errorf("external_columns must not be empty")
	}
	return nil
}

// ScopeOf maps an organizer code to its scope. Unlisted or blank codes map to
// Unknown.
func (t *Table) ScopeOf(organizer string) Scope {
	e, ok := t.Organizers[strings.TrimSpace(organizer)]
	if !ok {
		return Unknown{}
	}
	switch e.Type {
	case KindCentral:
		return Central{}
	case KindProvince:
		return Province{ProvinceID: e.ProvinceID}
	case KindZone:
		return Zone{ZoneID: e.ZoneID}
	case KindExternal:
		return External{}
	}
	return Unknown{}
}

// ProvincesOf returns the member provinces of a zone. The result is a copy.
func (t *Table) ProvincesOf(zoneID int) []int {
	return slices.Clone(t.Zones[zoneID])
}
