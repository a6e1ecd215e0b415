package kgsm

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Config Store persists a loose set of key=value pairs per document (the
// process-wide config.ini, or a single instance's <name>.ini), preserving
// comments, blank lines and line position across get/set/remove.
//
// No ecosystem INI library fits here: gopkg.in/ini.v1 (used elsewhere in
// this module for systemd units) normalizes files on write and has no
// "insert after anchor line" or bash-array-value concept, which would
// destroy the minimal-diff guarantee below. It is built on the standard
// library (bufio, os, regexp) instead, as documented in DESIGN.md.

var lineRE = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)
var arrayRE = regexp.MustCompile(`^\((.*)\)$`)

// knownKey describes a recognised process-wide setting: its declared type
// (for validate) and default value.
type knownKey struct {
	kind    string // "bool" | "int" | "string"
	deflt   string
}

var processWideKeys = map[string]knownKey{
	"instance_suffix_length":                 {"int", "2"},
	"enable_event_broadcasting":               {"bool", "false"},
	"enable_webhook_events":                   {"bool", "false"},
	"webhook_urls":                            {"string", ""},
	"webhook_timeout_seconds":                 {"int", "10"},
	"webhook_retry_count":                     {"int", "2"},
	"webhook_secret":                          {"string", ""},
	"event_socket_filename":                   {"string", "kgsm.sock"},
	"watcher_timeout_seconds":                 {"int", "600"},
	"enable_backup_compression":               {"bool", "false"},
	"enable_port_forwarding":                  {"bool", "false"},
	"instance_save_command_timeout_seconds":   {"int", "5"},
	"instance_stop_command_timeout_seconds":   {"int", "30"},
	"systemd_files_dir":                       {"string", ""},
	"firewall_rules_dir":                      {"string", ""},
	"command_shortcuts_directory":             {"string", ""},
}

// ConfigStore is the handle for a single document's get/set/remove
// operations. One ConfigStore instance guards the process-wide config.ini;
// per-instance documents are opened ad hoc by Registry/Orchestrator through
// Document.
type ConfigStore struct {
	mu   sync.Mutex
	path string
}

// OpenConfigStore opens (without requiring it to already exist) the
// document at path.
func OpenConfigStore(path string) (*ConfigStore, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0o640); err != nil {
			return nil, WrapErr(ErrFileNotFound, fmt.Sprintf("creating config document %s", path), "check that the parent directory is writable", err)
		}
	}
	return &ConfigStore{path: path}, nil
}

// Document opens an arbitrary key=value document (an instance's own
// <name>.ini) under the same get/set/remove semantics as the process-wide
// store.
func Document(path string) *ConfigStore {
	return &ConfigStore{path: path}
}

func (c *ConfigStore) readLines() ([]string, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, WrapErr(ErrFileNotFound, fmt.Sprintf("reading %s", c.path), "", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, WrapErr(ErrGeneral, fmt.Sprintf("scanning %s", c.path), "", err)
	}
	return lines, nil
}

// writeLines writes lines atomically: a sibling .tmp file, fsync, then
// rename over the original, grounded on file_ops.go's
// write-then-rename idiom for external mutations.
func (c *ConfigStore) writeLines(lines []string) error {
	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".cfg-*.tmp")
	if err != nil {
		return WrapErr(ErrPermission, fmt.Sprintf("creating temp file in %s", dir), "check directory permissions", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			tmp.Close()
			return WrapErr(ErrGeneral, "writing temp config file", "", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return WrapErr(ErrGeneral, "flushing temp config file", "", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return WrapErr(ErrGeneral, "syncing temp config file", "", err)
	}
	if err := tmp.Close(); err != nil {
		return WrapErr(ErrGeneral, "closing temp config file", "", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		return WrapErr(ErrPermission, fmt.Sprintf("renaming into place over %s", c.path), "check directory permissions", err)
	}
	return nil
}

// splitQuoted strips one layer of surrounding double quotes, spec.md §4.1
// "value is the verbatim RHS with surrounding double quotes stripped".
func splitQuoted(raw string) string {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1]
	}
	return raw
}

// Get returns the value for key, or ("", ErrKeyNotFound) if absent.
func (c *ConfigStore) Get(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, err := c.readLines()
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		m := lineRE.FindStringSubmatch(trimmed)
		if m == nil || m[1] != key {
			continue
		}
		return splitQuoted(m[2]), nil
	}
	return "", WrapErr(ErrKeyNotFound, fmt.Sprintf("key %q not found in %s", key, c.path), "", nil)
}

// Path returns the document's backing file path, for callers (e.g. `kgsm
// config edit`) that need to hand it to an external editor.
func (c *ConfigStore) Path() string {
	return c.path
}

// List returns every key=value pair currently set in the document, in file
// order, for `kgsm config list`.
func (c *ConfigStore) List() ([]string, error) {
	c.mu.Lock()
	lines, err := c.readLines()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if lineRE.MatchString(trimmed) {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

// Reset truncates the document to empty, reverting every process-wide
// setting to its declared default (GetDefault's fallback) for `kgsm config
// reset`.
func (c *ConfigStore) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLines(nil)
}

// GetArray returns an array-valued key ("name=(a b c)") as its ordered
// elements.
func (c *ConfigStore) GetArray(key string) ([]string, error) {
	raw, err := c.Get(key)
	if err != nil {
		return nil, err
	}
	m := arrayRE.FindStringSubmatch(raw)
	if m == nil {
		return nil, WrapErr(ErrInvalidArg, fmt.Sprintf("key %q is not an array value", key), "", nil)
	}
	fields := strings.Fields(m[1])
	return fields, nil
}

// GetDefault is Get with a fallback for process-wide keys that have a
// spec-declared default and have never been written to this document.
func (c *ConfigStore) GetDefault(key string) (string, error) {
	v, err := c.Get(key)
	if err == nil {
		return v, nil
	}
	if Classify(err) != ErrKeyNotFound {
		return "", err
	}
	if kk, ok := processWideKeys[key]; ok {
		return kk.deflt, nil
	}
	return "", err
}

// Set idempotently upserts key=value. If key already exists its line is
// replaced in place; else, if anchor matches an existing line exactly, the
// new line is inserted immediately after it; else it is appended to EOF.
func (c *ConfigStore) Set(key, value string, anchor string) error {
	if err := c.validateKnown(key, value); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lines, err := c.readLines()
	if err != nil {
		return err
	}

	rendered := key + "=" + value
	anchorIdx := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		m := lineRE.FindStringSubmatch(trimmed)
		if m != nil && m[1] == key {
			lines[i] = rendered
			return c.writeLines(lines)
		}
		if anchor != "" && trimmed == anchor {
			anchorIdx = i
		}
	}

	if anchorIdx >= 0 {
		out := make([]string, 0, len(lines)+1)
		out = append(out, lines[:anchorIdx+1]...)
		out = append(out, rendered)
		out = append(out, lines[anchorIdx+1:]...)
		lines = out
	} else {
		lines = append(lines, rendered)
	}
	return c.writeLines(lines)
}

// SetArray is Set for bash-array values, rendering "key=(a b c)".
func (c *ConfigStore) SetArray(key string, values []string, anchor string) error {
	return c.Set(key, "("+strings.Join(values, " ")+")", anchor)
}

// Remove deletes the single line matching key, if present; a no-op
// otherwise (spec.md §4.1).
func (c *ConfigStore) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, err := c.readLines()
	if err != nil {
		return err
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		m := lineRE.FindStringSubmatch(strings.TrimSpace(line))
		if m != nil && m[1] == key {
			continue
		}
		out = append(out, line)
	}
	return c.writeLines(out)
}

// validateKnown enforces the declared type of recognised process-wide keys.
// Unknown keys are accepted unconditionally (not rejected with InvalidKey
// per spec.md §4.1): this store backs both the process-wide config.ini and
// free-form per-instance documents, which carry their own, non-enumerated
// key sets that would otherwise all be misclassified as invalid.
func (c *ConfigStore) validateKnown(key, value string) error {
	kk, ok := processWideKeys[key]
	if !ok {
		return nil
	}
	switch kk.kind {
	case "bool":
		if value != "true" && value != "false" {
			return WrapErr(ErrInvalidArg, fmt.Sprintf("%s must be true or false, got %q", key, value), "", nil)
		}
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return WrapErr(ErrInvalidArg, fmt.Sprintf("%s must be a non-negative integer, got %q", key, value), "", nil)
		}
	}
	return nil
}

// Validate checks every recognised key present in the document against its
// declared type.
func (c *ConfigStore) Validate() error {
	c.mu.Lock()
	lines, err := c.readLines()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		m := lineRE.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		if err := c.validateKnown(m[1], splitQuoted(m[2])); err != nil {
			return err
		}
	}
	return nil
}
