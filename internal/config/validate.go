package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRouting(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRouting() error {
	for i, rule := range c.Routing.Rules {
		if strings.TrimSpace(rule.Pattern) == "" {
			return fmt.Errorf("routing.rules[%d].pattern must be set", i)
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("routing.rules[%d].pattern: %w", i, err)
		}
		if strings.TrimSpace(rule.Destination) == "" {
			return fmt.Errorf("routing.rules[%d].destination must be set", i)
		}
	}
	return nil
}

func (c *Config) validateDispatch() error {
	names := make(map[string]struct{}, len(c.Plugins))
	for i, p := range c.Plugins {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("plugins[%d].name must be set", i)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("plugins[%d].name %q is not unique", i, p.Name)
		}
		names[p.Name] = struct{}{}
		if strings.TrimSpace(p.Location) == "" {
			return fmt.Errorf("plugins[%d].location must be set", i)
		}
	}

	keys := make(map[string]struct{}, len(c.Dispatch.Bindings))
	for i, b := range c.Dispatch.Bindings {
		if strings.TrimSpace(b.DataType) == "" {
			return fmt.Errorf("dispatch.bindings[%d].data_type must be set", i)
		}
		if _, dup := keys[b.DataType]; dup {
			return fmt.Errorf("dispatch.bindings[%d].data_type %q is not unique", i, b.DataType)
		}
		keys[b.DataType] = struct{}{}
		if strings.TrimSpace(b.Plugin) == "" {
			return fmt.Errorf("dispatch.bindings[%d].plugin must be set", i)
		}
		if b.Pattern != "" {
			if _, err := regexp.Compile(b.Pattern); err != nil {
				return fmt.Errorf("dispatch.bindings[%d].pattern: %w", i, err)
			}
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
