package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// tree renders c as nested YAML maps keyed by the yaml tags.
func (c *Config) tree() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding config tree: %w", err)
	}
	return m, nil
}

// Keys returns every dotted configuration key, sorted.
func (c *Config) Keys() []string {
	m, err := c.tree()
	if err != nil {
		return nil
	}
	var keys []string
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(key, child)
				continue
			}
			keys = append(keys, key)
		}
	}
	walk("", m)
	// journal.path is omitted when empty but is still settable
	if !contains(keys, "journal.path") {
		keys = append(keys, "journal.path")
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of a dotted key such as "scheduler.tick_interval".
func (c *Config) Get(key string) (any, bool) {
	m, err := c.tree()
	if err != nil {
		return nil, false
	}
	parts := strings.Split(key, ".")
	var node any = m
	for _, p := range parts {
		branch, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = branch[p]
		if !ok {
			if key == "journal.path" {
				return "", true
			}
			return nil, false
		}
	}
	if _, isBranch := node.(map[string]any); isBranch {
		return nil, false
	}
	return node, true
}

// Set parses value as YAML into the dotted key and validates the result.
// c is unchanged when an error is returned.
func (c *Config) Set(key, value string) error {
	if !contains(c.Keys(), key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	m, err := c.tree()
	if err != nil {
		return err
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return fmt.Errorf("parsing value for %s: %w", key, err)
	}

	parts := strings.Split(key, ".")
	node := m
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = parsed

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	next := Default()
	if err := yaml.Unmarshal(data, next); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = *next
	return nil
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
