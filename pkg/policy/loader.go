package policy

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadDelay is the quiet period the watcher waits for after a policy file
// changes before reloading.
const ReloadDelay = 300 * time.Millisecond

// Loader reads user lint policies from .rego and .json files.
//
// A .rego file is named after its base name. Its leading comment block is
// the description, except for annotation lines:
//
//	# Routing rules must not shadow each other
//	# severity: error
//	# disabled
type Loader struct {
	logger zerolog.Logger

	mu      sync.Mutex
	digests map[string][sha256.Size]byte
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:  logger.With().Str("component", "policy-loader").Logger(),
		digests: make(map[string][sha256.Size]byte),
	}
}

// LoadFromPaths loads the policies of every file and directory in paths.
// Unreadable files inside a directory are skipped; a named file that fails
// to load is an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := policyFiles(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		for _, file := range files {
			p, err := l.loadFromFile(file)
			if err != nil {
				if file == path {
					return nil, err
				}
				l.logger.Warn().Err(err).Str("path", file).Msg("Skipping policy file")
				continue
			}
			all = append(all, *p)
		}
	}

	l.logger.Debug().Int("policies", len(all)).Strs("paths", paths).Msg("Policies loaded")
	return all, nil
}

// policyFiles returns path itself, or the policy files below it in lexical
// order.
func policyFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isPolicyFile(p) {
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

func (l *Loader) loadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var p *Policy
	switch filepath.Ext(path) {
	case ".rego":
		p, err = parseRegoFile(path, data)
	case ".json":
		p, err = parseJSONFile(data)
	default:
		err = fmt.Errorf("unsupported file type: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Source = path

	l.mu.Lock()
	l.digests[path] = sha256.Sum256(data)
	l.mu.Unlock()
	return p, nil
}

// parseRegoFile builds a policy from a .rego file and its header comments.
func parseRegoFile(path string, data []byte) (*Policy, error) {
	p := &Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:     string(data),
		Severity: SeverityWarning,
		Enabled:  true,
	}

	var desc []string
	inHeader := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			if !inHeader && (line == "" || strings.HasPrefix(line, "package ")) {
				continue
			}
			break
		}
		inHeader = true

		comment := strings.TrimSpace(strings.TrimPrefix(line, "#"))
		switch {
		case comment == "disabled":
			p.Enabled = false
		case strings.HasPrefix(comment, "severity:"):
			sev := Severity(strings.TrimSpace(strings.TrimPrefix(comment, "severity:")))
			if !sev.valid() {
				return nil, fmt.Errorf("unknown severity %q", sev)
			}
			p.Severity = sev
		case comment != "":
			desc = append(desc, comment)
		}
	}
	p.Description = strings.Join(desc, " ")
	return p, nil
}

// parseJSONFile parses a JSON policy definition.
func parseJSONFile(data []byte) (*Policy, error) {
	p := Policy{Enabled: true, Severity: SeverityWarning}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("JSON policy has no name")
	}
	if !p.Severity.valid() {
		return nil, fmt.Errorf("unknown severity %q", p.Severity)
	}
	p.Builtin = false
	return &p, nil
}

// changed reports whether the file at path differs from when it was last
// loaded. Removed files count as changed.
func (l *Loader) changed(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		_, known := l.digests[path]
		delete(l.digests, path)
		return known
	}
	old, ok := l.digests[path]
	return !ok || old != sha256.Sum256(data)
}

// Watch replaces the user policies of e whenever a policy file under paths
// changes. Built-in policies are kept. It blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context, paths []string, e *Engine) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, path := range paths {
		dir := path
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			dir = filepath.Dir(path)
		}
		if err := watcher.Add(dir); err != nil {
			l.logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch policy path")
		}
	}

	timer := time.NewTimer(ReloadDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 ||
				!isPolicyFile(event.Name) || !l.changed(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			timer.Reset(ReloadDelay)

		case <-timer.C:
			policies, err := l.LoadFromPaths(ctx, paths)
			if err == nil {
				err = e.replaceUserPolicies(ctx, policies)
			}
			if err != nil {
				l.logger.Error().Err(err).Msg("Failed to reload policies")
				continue
			}
			l.logger.Info().Int("policies", len(policies)).Msg("User policies reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}
