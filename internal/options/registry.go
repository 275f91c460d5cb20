// Package options keeps the vocabularies offered as suggestions for the
// descriptive fields (markets, clients, projects, teams, platforms).
//
// Values come from two layers: a seed file, which is replaced on every
// reload, and values learned from successful writes, which are kept for the
// life of the process.
package options

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Fields are the descriptive fields that carry vocabularies.
var Fields = []string{"market", "client", "project", "team", "platform"}

// TextRecord is a record whose text fields can be learned from.
type TextRecord interface {
	TextFields() map[string]string
}

// Registry is the option vocabulary service. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	seed    map[string]map[string]string
	learned map[string]map[string]string
	logger  *log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(os.Stderr, "[options] ", log.LstdFlags)
	}
	return &Registry{
		seed:    make(map[string]map[string]string),
		learned: make(map[string]map[string]string),
		logger:  logger,
	}
}

func isField(field string) bool {
	for _, f := range Fields {
		if f == field {
			return true
		}
	}
	return false
}

// key folds case so "US" and "us" are one option; the first spelling wins.
func key(v string) string {
	return strings.ToLower(v)
}

// Register adds value to field. Blank values and unknown fields are
// ignored. It reports whether the value was new.
func (r *Registry) Register(field, value string) bool {
	field = strings.ToLower(strings.TrimSpace(field))
	value = strings.TrimSpace(value)
	if value == "" || !isField(field) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seed[field][key(value)]; ok {
		return false
	}
	if _, ok := r.learned[field][key(value)]; ok {
		return false
	}
	if r.learned[field] == nil {
		r.learned[field] = make(map[string]string)
	}
	r.learned[field][key(value)] = value
	return true
}

// RegisterRecord learns every vocabulary field of rec.
func (r *Registry) RegisterRecord(rec TextRecord) {
	for field, value := range rec.TextFields() {
		if isField(field) {
			r.Register(field, value)
		}
	}
}

// Suggest returns the sorted, de-duplicated options for field.
func (r *Registry) Suggest(field string) []string {
	field = strings.ToLower(strings.TrimSpace(field))
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]string)
	for k, v := range r.seed[field] {
		seen[k] = v
	}
	for k, v := range r.learned[field] {
		if _, ok := seen[k]; !ok {
			seen[k] = v
		}
	}
	out := make([]string, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		if a == b {
			return out[i] < out[j]
		}
		return a < b
	})
	return out
}

// All returns the suggestions for every field.
func (r *Registry) All() map[string][]string {
	out := make(map[string][]string, len(Fields))
	for _, f := range Fields {
		out[f] = r.Suggest(f)
	}
	return out
}

// LoadFile replaces the seed layer with the contents of a YAML file of the
// form `field: [value, ...]`. Unknown fields are skipped with a warning.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read options file %s: %w", path, err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse options file %s: %w", path, err)
	}

	seed := make(map[string]map[string]string)
	total := 0
	for field, values := range raw {
		field = strings.ToLower(strings.TrimSpace(field))
		if !isField(field) {
			r.logger.Printf("WARNING: ignoring unknown option field %q in %s", field, path)
			continue
		}
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if seed[field] == nil {
				seed[field] = make(map[string]string)
			}
			if _, ok := seed[field][key(v)]; !ok {
				seed[field][key(v)] = v
				total++
			}
		}
	}

	r.mu.Lock()
	r.seed = seed
	r.mu.Unlock()

	r.logger.Printf("Loaded %d options from %s", total, path)
	return nil
}
