package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// storedTemplates resolves message templates from the engine store.
type storedTemplates struct {
	repo persistence.TemplateRepository
}

func (s storedTemplates) GetTemplate(ctx context.Context, tenantID, templateID string) (*models.MessageTemplate, error) {
	tpl, err := s.repo.TemplateByID(ctx, tenantID, templateID)
	if errors.Is(err, persistence.ErrTemplateNotFound) {
		return nil, fmt.Errorf("template %s: %w", templateID, actions.ErrTemplateNotFound)
	}

	return tpl, err
}
