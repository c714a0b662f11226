// Package definitions loads flows, cadences, inactivity rules and message
// templates from YAML files and seeds them into the engine.
package definitions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
	"gopkg.in/yaml.v3"
)

// File is the content of one definitions file. TenantID applies to every
// definition that does not name its own tenant.
type File struct {
	TenantID        string                   `yaml:"tenant_id"`
	Templates       []models.MessageTemplate `yaml:"templates"`
	Flows           []models.AutomationFlow  `yaml:"flows"`
	Cadences        []models.Cadence         `yaml:"cadences"`
	InactivityRules []models.InactivityRule  `yaml:"inactivity_rules"`
}

func (f *File) Empty() bool {
	return len(f.Templates)+len(f.Flows)+len(f.Cadences)+len(f.InactivityRules) == 0
}

func (f *File) merge(other *File) {
	f.Templates = append(f.Templates, other.Templates...)
	f.Flows = append(f.Flows, other.Flows...)
	f.Cadences = append(f.Cadences, other.Cadences...)
	f.InactivityRules = append(f.InactivityRules, other.InactivityRules...)
}

func (f *File) applyTenant() {
	if f.TenantID == "" {
		return
	}

	for i := range f.Templates {
		if f.Templates[i].TenantID == "" {
			f.Templates[i].TenantID = f.TenantID
		}
	}

	for i := range f.Flows {
		if f.Flows[i].TenantID == "" {
			f.Flows[i].TenantID = f.TenantID
		}
	}

	for i := range f.Cadences {
		if f.Cadences[i].TenantID == "" {
			f.Cadences[i].TenantID = f.TenantID
		}
	}

	for i := range f.InactivityRules {
		if f.InactivityRules[i].TenantID == "" {
			f.InactivityRules[i].TenantID = f.TenantID
		}
	}
}

// Parse decodes one YAML document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file File
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse definitions: %w", err)
	}

	file.applyTenant()

	return &file, nil
}

// Load reads path, which is either a YAML file or a directory whose *.yaml
// and *.yml files are merged in name order.
func Load(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions %s: %w", path, err)
	}

	if !info.IsDir() {
		return loadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions %s: %w", path, err)
	}

	var names []string

	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !entry.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, entry.Name())
		}
	}

	slices.Sort(names)

	merged := &File{}

	for _, name := range names {
		file, err := loadFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}

		merged.merge(file)
	}

	return merged, nil
}

func loadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions %s: %w", path, err)
	}
	defer f.Close()

	file, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return file, nil
}

// Checker runs the activation checks of each definition kind.
type Checker interface {
	CheckFlow(flow *models.AutomationFlow) error
	CheckCadence(cadence *models.Cadence) error
	CheckInactivityRule(rule *models.InactivityRule) error
	CheckTemplate(tpl *models.MessageTemplate) error
}

// Check runs the activation checks over every definition in file, active or
// not, and joins the problems found.
func Check(checker Checker, file *File) error {
	var errs []error

	for i := range file.Templates {
		if err := checker.CheckTemplate(&file.Templates[i]); err != nil {
			errs = append(errs, fmt.Errorf("templates[%d]: %w", i, err))
		}
	}

	for i := range file.Flows {
		if err := checker.CheckFlow(&file.Flows[i]); err != nil {
			errs = append(errs, fmt.Errorf("flows[%d]: %w", i, err))
		}
	}

	for i := range file.Cadences {
		if err := checker.CheckCadence(&file.Cadences[i]); err != nil {
			errs = append(errs, fmt.Errorf("cadences[%d]: %w", i, err))
		}
	}

	for i := range file.InactivityRules {
		if err := checker.CheckInactivityRule(&file.InactivityRules[i]); err != nil {
			errs = append(errs, fmt.Errorf("inactivity_rules[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// Store saves definitions. *engine.Engine implements it.
type Store interface {
	SaveTemplate(ctx context.Context, tpl *models.MessageTemplate) error
	SaveFlow(ctx context.Context, flow *models.AutomationFlow) error
	SaveCadence(ctx context.Context, cadence *models.Cadence) error
	SaveInactivityRule(ctx context.Context, rule *models.InactivityRule) error
}

type Report struct {
	Templates       int
	Flows           int
	Cadences        int
	InactivityRules int
}

// Seed saves every definition of file. Templates go first so that flows and
// cadences referencing them are stored after them. A failing definition does
// not stop the others.
func Seed(ctx context.Context, store Store, file *File, logger *slog.Logger) (Report, error) {
	logger = logger.With("module", "definitions")

	var (
		report Report
		errs   []error
	)

	for i := range file.Templates {
		tpl := &file.Templates[i]
		if err := store.SaveTemplate(ctx, tpl); err != nil {
			errs = append(errs, fmt.Errorf("template %s: %w", tpl.ID, err))

			continue
		}

		report.Templates++
	}

	for i := range file.Cadences {
		cadence := &file.Cadences[i]
		if err := store.SaveCadence(ctx, cadence); err != nil {
			errs = append(errs, fmt.Errorf("cadence %s: %w", cadence.ID, err))

			continue
		}

		report.Cadences++
	}

	for i := range file.InactivityRules {
		rule := &file.InactivityRules[i]
		if err := store.SaveInactivityRule(ctx, rule); err != nil {
			errs = append(errs, fmt.Errorf("inactivity rule %s: %w", rule.ID, err))

			continue
		}

		report.InactivityRules++
	}

	for i := range file.Flows {
		flow := &file.Flows[i]
		if err := store.SaveFlow(ctx, flow); err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", flow.ID, err))

			continue
		}

		report.Flows++
	}

	logger.InfoContext(ctx, "definitions seeded",
		"templates", report.Templates,
		"flows", report.Flows,
		"cadences", report.Cadences,
		"inactivity_rules", report.InactivityRules)

	return report, errors.Join(errs...)
}
