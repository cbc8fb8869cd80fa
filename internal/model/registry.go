package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SheetFactory builds a spreadsheet-backed model from a workbook path.
// It is injected by the wiring layer to keep this package free of the
// workbook engine.
type SheetFactory func(path string) (Model, error)

// Registry holds all runnable models keyed by ID.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

// Register adds a model. Duplicate IDs are an error.
func (r *Registry) Register(m Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := m.ID()
	if _, ok := r.models[id]; ok {
		return fmt.Errorf("register model: duplicate id %q", id)
	}
	r.models[id] = m
	r.order = append(r.order, id)
	return nil
}

// Get returns the model with the given ID.
func (r *Registry) Get(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// List returns all models in registration order.
func (r *Registry) List() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// Discover scans dir for model files: *.yaml definitions become built-in
// models (matched by file stem), *.xlsx workbooks become spreadsheet models
// via the factory. Unreadable files are logged and skipped; an unreadable
// directory is an error.
func (r *Registry) Discover(dir string, sheets SheetFactory, log *zap.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("discover models: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		ext := strings.ToLower(filepath.Ext(name))
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		switch ext {
		case ".yaml", ".yml":
			def, err := LoadDefinition(path)
			if err != nil {
				log.Warn("skipping model definition", zap.String("path", path), zap.Error(err))
				continue
			}
			var m Model
			switch stem {
			case "measles_outbreak":
				m = NewMeasles(def)
			case "tb_isolation":
				m = NewTB(def)
			default:
				log.Warn("no built-in model for definition", zap.String("path", path))
				continue
			}
			if err := r.Register(m); err != nil {
				return err
			}
			log.Info("registered model", zap.String("id", m.ID()), zap.String("kind", m.Kind()))
		case ".xlsx":
			// Excel lock files start with ~$.
			if strings.HasPrefix(name, "~$") || sheets == nil {
				continue
			}
			m, err := sheets(path)
			if err != nil {
				log.Warn("skipping workbook", zap.String("path", path), zap.Error(err))
				continue
			}
			if err := r.Register(m); err != nil {
				return err
			}
			log.Info("registered model", zap.String("id", m.ID()), zap.String("kind", m.Kind()))
		}
	}
	return nil
}
