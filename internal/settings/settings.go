// Package settings resolves per-device suppression configuration.
package settings

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings is the effective suppression configuration for one entity.
type Settings struct {
	DeviceDownSuppression bool     `json:"suppress_if_device_down" yaml:"suppress_if_device_down"`
	PathsDownSuppression  bool     `json:"suppress_if_paths_down" yaml:"suppress_if_paths_down"`
	PotentialRootCause    bool     `json:"potential_root_cause" yaml:"potential_root_cause"`
	Gateways              []string `json:"gateways,omitempty" yaml:"gateways"`
}

// Enabled reports whether any kind of suppression applies.
func (s Settings) Enabled() bool {
	return s.DeviceDownSuppression || s.PathsDownSuppression
}

// Defaults is the configuration of an entity nothing else configures.
func Defaults() Settings {
	return Settings{PotentialRootCause: true}
}

// Source looks up settings for an entity.
type Source interface {
	Settings(ctx context.Context, entity string) (Settings, error)
}

// Override is a partial configuration; nil fields inherit.
type Override struct {
	DeviceDownSuppression *bool    `yaml:"suppress_if_device_down"`
	PathsDownSuppression  *bool    `yaml:"suppress_if_paths_down"`
	PotentialRootCause    *bool    `yaml:"potential_root_cause"`
	Gateways              []string `yaml:"gateways"`
}

func (o Override) apply(s Settings) Settings {
	if o.DeviceDownSuppression != nil {
		s.DeviceDownSuppression = *o.DeviceDownSuppression
	}
	if o.PathsDownSuppression != nil {
		s.PathsDownSuppression = *o.PathsDownSuppression
	}
	if o.PotentialRootCause != nil {
		s.PotentialRootCause = *o.PotentialRootCause
	}
	if o.Gateways != nil {
		s.Gateways = make([]string, len(o.Gateways))
		copy(s.Gateways, o.Gateways)
	}
	return s
}

// Tree resolves settings from defaults, organizer overrides matched by path
// prefix (shortest first, so deeper organizers win) and per-device overrides.
// A Tree must not be modified once Settings has been called.
type Tree struct {
	Defaults   Override            `yaml:"defaults"`
	Organizers map[string]Override `yaml:"organizers"`
	Devices    map[string]Override `yaml:"devices"`

	once     sync.Once
	prefixes []string
}

// LoadTree reads a settings tree from a YAML file.
func LoadTree(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	return ParseTree(data)
}

// ParseTree parses a YAML settings tree.
func ParseTree(data []byte) (*Tree, error) {
	var t Tree
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	t.index()
	return &t, nil
}

func (t *Tree) index() {
	t.once.Do(func() {
		prefixes := make([]string, 0, len(t.Organizers))
		for p := range t.Organizers {
			prefixes = append(prefixes, p)
		}
		sort.Slice(prefixes, func(i, j int) bool {
			if len(prefixes[i]) != len(prefixes[j]) {
				return len(prefixes[i]) < len(prefixes[j])
			}
			return prefixes[i] < prefixes[j]
		})
		t.prefixes = prefixes
	})
}

// Settings implements Source.
func (t *Tree) Settings(ctx context.Context, entity string) (Settings, error) {
	t.index()
	s := t.Defaults.apply(Defaults())
	for _, p := range t.prefixes {
		if underOrganizer(entity, p) {
			s = t.Organizers[p].apply(s)
		}
	}
	if o, ok := t.Devices[entity]; ok {
		s = o.apply(s)
	}
	return s, nil
}

func underOrganizer(entity, organizer string) bool {
	organizer = strings.TrimSuffix(organizer, "/")
	if organizer == "" {
		return true
	}
	return entity == organizer || strings.HasPrefix(entity, organizer+"/")
}

// Static serves fixed settings per entity and Fallback for everything else.
type Static struct {
	Entities map[string]Settings
	Fallback Settings
}

// Settings implements Source.
func (s Static) Settings(ctx context.Context, entity string) (Settings, error) {
	if v, ok := s.Entities[entity]; ok {
		return v, nil
	}
	return s.Fallback, nil
}
