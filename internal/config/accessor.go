package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Settings are addressed by dot paths over the JSON names of the config,
// e.g. "reminders.timezone" or "providers.ollama.apiBase". A path with no
// dot names a whole section.

func asTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func fromTree(tree map[string]any) (*Config, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetByPath returns the setting or section at path.
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := asTree(cfg)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(path, ".") {
		section, ok := tree[path]
		if !ok {
			return nil, fmt.Errorf("unknown section %q", path)
		}
		return section, nil
	}
	st, err := locate(tree, path, false)
	if err != nil {
		return nil, err
	}
	if !st.present {
		return nil, fmt.Errorf("unknown setting %q", path)
	}
	return st.parent[st.key], nil
}

// leaf is a resolved setting inside the config tree.
type leaf struct {
	section string
	parent  map[string]any
	key     string
	present bool // false for unset optional fields
}

// locate walks path down to its parent map. With create set, a missing
// provider entry ("providers.<name>") is added so new providers can be
// configured one field at a time.
func locate(tree map[string]any, path string, create bool) (leaf, error) {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return leaf{}, fmt.Errorf("%q is a section, name a setting inside it (e.g. reminders.timezone)", path)
	}

	node := tree
	for i, key := range parts[:len(parts)-1] {
		child, ok := node[key]
		if !ok && create && i == 1 && parts[0] == "providers" {
			child = map[string]any{}
			node[key] = child
		} else if !ok {
			return leaf{}, fmt.Errorf("unknown section %q", strings.Join(parts[:i+1], "."))
		}
		m, isMap := child.(map[string]any)
		if !isMap {
			return leaf{}, fmt.Errorf("%s is a setting, not a section", strings.Join(parts[:i+1], "."))
		}
		node = m
	}

	key := parts[len(parts)-1]
	_, present := node[key]
	return leaf{section: parts[0], parent: node, key: key, present: present}, nil
}

// SetByPath parses raw into the type the setting already holds and stores
// it. The section the setting belongs to must still validate; on any error
// cfg is left unchanged.
func SetByPath(cfg *Config, path, raw string) error {
	tree, err := asTree(cfg)
	if err != nil {
		return err
	}
	st, err := locate(tree, path, true)
	if err != nil {
		return err
	}
	candidates, err := parseSetting(st.parent[st.key], raw)
	if err != nil {
		return fmt.Errorf("%s %w", path, err)
	}

	var lastErr error
	for _, v := range candidates {
		st.parent[st.key] = v
		next, err := fromTree(tree)
		if err != nil {
			lastErr = err
			continue
		}
		// the decode drops names the config does not have
		if !st.present {
			if _, err := GetByPath(next, path); err != nil {
				lastErr = err
				continue
			}
		}
		if check, ok := sectionChecks[st.section]; ok {
			if errs := check(next); len(errs) > 0 {
				return fmt.Errorf("%s: %s", path, strings.Join(errs, "; "))
			}
		}
		*cfg = *next
		return nil
	}
	return fmt.Errorf("set %s: %w", path, lastErr)
}

// parseSetting returns the values raw may stand for, given the current
// value of the setting. Unset and null settings may be a string or a list.
func parseSetting(current any, raw string) ([]any, error) {
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expects true or false, got %q", raw)
		}
		return []any{b}, nil
	case float64:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expects a number, got %q", raw)
		}
		return []any{n}, nil
	case string:
		return []any{raw}, nil
	case []any:
		return []any{splitList(raw)}, nil
	case map[string]any:
		return nil, errors.New("is a section, not a setting")
	default:
		return []any{raw, splitList(raw)}, nil
	}
}

// splitList turns "gemini, ollama" into a JSON list.
func splitList(raw string) []any {
	out := []any{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Sanitize returns a copy of the config with provider keys, the bot token
// and the database password masked.
func Sanitize(cfg *Config) *Config {
	tree, err := asTree(cfg)
	if err != nil {
		return cfg
	}
	out, err := fromTree(tree)
	if err != nil {
		return cfg
	}

	for name, prov := range out.Providers {
		if prov.APIKey != "" {
			prov.APIKey = maskString(prov.APIKey)
			out.Providers[name] = prov
		}
	}
	if out.Channels.Telegram.Token != "" {
		out.Channels.Telegram.Token = maskString(out.Channels.Telegram.Token)
	}
	out.Database.DSN = maskDSN(out.Database.DSN)
	return out
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// maskDSN hides the password of a URL-style DSN.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// ListPaths returns every set leaf of the config keyed by its dot path.
// Lists are reported whole.
func ListPaths(cfg *Config) map[string]any {
	tree, err := asTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			if child, ok := v.(map[string]any); ok {
				walk(prefix+k+".", child)
				continue
			}
			out[prefix+k] = v
		}
	}
	walk("", tree)
	return out
}
