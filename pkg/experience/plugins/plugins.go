// Package plugins builds the bundled destinations from configuration.
package plugins

import (
	"fmt"
	"log/slog"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/config"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/plugin"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/plugins/buffer"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/plugins/logdest"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/registry"
)

// Factory creates a plugin from its option map.
type Factory func(logger *slog.Logger, opts config.Options) (plugin.Plugin, error)

// Catalog maps plugin names to factories.
type Catalog struct {
	factories *registry.Registry[string, Factory]
}

// NewCatalog returns a catalog holding the bundled destinations.
func NewCatalog() *Catalog {
	c := &Catalog{factories: registry.New[string, Factory]()}
	c.Add(buffer.Name, func(_ *slog.Logger, o config.Options) (plugin.Plugin, error) {
		return buffer.FromOptions(o), nil
	})
	c.Add(logdest.Name, func(logger *slog.Logger, o config.Options) (plugin.Plugin, error) {
		return logdest.FromOptions(logger, o)
	})
	return c
}

// Add registers or replaces a factory.
func (c *Catalog) Add(name string, f Factory) {
	c.factories.Register(name, f)
}

// Names returns the known plugin names.
func (c *Catalog) Names() []string {
	return c.factories.Keys()
}

// Build creates the configured plugins in list order.
func (c *Catalog) Build(logger *slog.Logger, settings []config.PluginSettings) ([]plugin.Plugin, error) {
	out := make([]plugin.Plugin, 0, len(settings))
	for _, s := range settings {
		f, ok := c.factories.Get(s.Name)
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q", s.Name)
		}
		p, err := f(logger, config.NewOptions(s.Options))
		if err != nil {
			return nil, fmt.Errorf("build plugin %q: %w", s.Name, err)
		}
		out = append(out, p)
	}
	return out, nil
}
