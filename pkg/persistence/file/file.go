// Package file provides a JSON file persistence implementation for single
// process deployments and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/crmflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on a directory tree. All
// writes go through one mutex, which is what makes the enrollment and
// execution uniqueness checks atomic.
type Persistence struct {
	root string
	mu   sync.Mutex

	flows       *flowRepository
	cadences    *cadenceRepository
	rules       *inactivityRuleRepository
	enrollments *enrollmentRepository
	executions  *executionRepository
	attempts    *attemptRepository
	truncations *truncationRepository
	templates   *templateRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.flows = &flowRepository{p: p, docs: collection[flowDoc]{dir: filepath.Join(cleanRoot, "flows")}}
	p.cadences = &cadenceRepository{p: p, docs: collection[cadenceDoc]{dir: filepath.Join(cleanRoot, "cadences")}}
	p.rules = &inactivityRuleRepository{p: p, docs: collection[ruleDoc]{dir: filepath.Join(cleanRoot, "inactivity_rules")}}
	p.enrollments = &enrollmentRepository{p: p, docs: collection[enrollmentDoc]{dir: filepath.Join(cleanRoot, "enrollments")}}
	p.executions = &executionRepository{p: p, docs: collection[executionDoc]{dir: filepath.Join(cleanRoot, "executions")}}
	p.attempts = &attemptRepository{p: p, docs: collection[attemptDoc]{dir: filepath.Join(cleanRoot, "step_attempts")}}
	p.truncations = &truncationRepository{p: p, docs: collection[truncationDoc]{dir: filepath.Join(cleanRoot, "chain_truncations")}}
	p.templates = &templateRepository{p: p, docs: collection[templateDoc]{dir: filepath.Join(cleanRoot, "templates")}}

	return p
}

func (p *Persistence) Flows() persistence.FlowRepository                     { return p.flows }
func (p *Persistence) Cadences() persistence.CadenceRepository               { return p.cadences }
func (p *Persistence) InactivityRules() persistence.InactivityRuleRepository { return p.rules }
func (p *Persistence) Enrollments() persistence.EnrollmentRepository         { return p.enrollments }
func (p *Persistence) Executions() persistence.ExecutionRepository           { return p.executions }
func (p *Persistence) Attempts() persistence.AttemptRepository               { return p.attempts }
func (p *Persistence) Truncations() persistence.TruncationRepository         { return p.truncations }
func (p *Persistence) Templates() persistence.TemplateRepository             { return p.templates }

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists and is writable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(p.root, 0o750); err != nil {
		return fmt.Errorf("file persistence root %s: %w", p.root, err)
	}

	return nil
}

// collection stores one JSON document per record in dir.
type collection[T any] struct {
	dir string
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty id: %w", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("id %q contains invalid characters: %w", id, persistence.ErrInvalidID)
	}

	return nil
}

// get returns nil without error when the document does not exist.
func (c collection[T]) get(id string) (*T, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	return c.read(filepath.Join(c.dir, id+".json"))
}

func (c collection[T]) read(path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return &doc, nil
}

// tenant returns the sub collection holding one tenant's documents.
func (c collection[T]) tenant(tenantID string) (collection[T], error) {
	if err := validateID(tenantID); err != nil {
		return collection[T]{}, fmt.Errorf("tenant: %w", err)
	}

	return collection[T]{dir: filepath.Join(c.dir, tenantID)}, nil
}

// scoped lists the documents of tenantID, or of every tenant when tenantID
// is empty.
func (c collection[T]) scoped(tenantID string) ([]*T, error) {
	if tenantID != "" {
		sub, err := c.tenant(tenantID)
		if err != nil {
			return nil, err
		}

		return sub.all()
	}

	return c.glob("*/*.json")
}

// put writes through a temporary file so readers never see partial documents.
func (c collection[T]) put(id string, doc *T) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.dir, err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp := filepath.Join(c.dir, "."+id+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	if err := os.Rename(tmp, filepath.Join(c.dir, id+".json")); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", id, err)
	}

	return nil
}

func (c collection[T]) all() ([]*T, error) {
	return c.glob("*.json")
}

func (c collection[T]) glob(pattern string) ([]*T, error) {
	files, err := fs.Glob(os.DirFS(c.dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.dir, err)
	}

	docs := make([]*T, 0, len(files))

	for _, name := range files {
		doc, err := c.read(filepath.Join(c.dir, filepath.FromSlash(name)))
		if err != nil {
			return nil, err
		}

		if doc != nil {
			docs = append(docs, doc)
		}
	}

	return docs, nil
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}

	return items
}
