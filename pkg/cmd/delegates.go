package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/crm/memory"
	"github.com/dukex/crmflow/pkg/crm/rest"
	"github.com/dukex/crmflow/pkg/delegates"
	"github.com/dukex/crmflow/pkg/delegates/chat"
	"github.com/dukex/crmflow/pkg/delegates/ses"
	"github.com/dukex/crmflow/pkg/delegates/webhook"
)

type DelegateConfig struct {
	Timeout time.Duration
	CRM     rest.Config
	SES     ses.Config
	Chat    chat.Config
}

// NewDelegates wires the action delegates. Without a CRM URL the in-memory
// CRM stands in for entities, tasks, notifications and any channel that has
// no provider configured.
func NewDelegates(ctx context.Context, cfg DelegateConfig, logger *slog.Logger) (actions.Dependencies, error) {
	client := delegates.NewClient(cfg.Timeout)

	deps := actions.Dependencies{
		Webhooks: webhook.New(client, logger),
	}

	if cfg.CRM.BaseURL != "" {
		crm, err := rest.New(cfg.CRM, client, logger)
		if err != nil {
			return deps, err
		}

		deps.Entities, deps.Tasks, deps.Notifier = crm, crm, crm
	} else {
		logger.WarnContext(ctx, "no CRM API configured, using in-memory entities")

		crm := memory.New()
		deps.Entities, deps.Tasks, deps.Notifier = crm, crm, crm
		deps.Email, deps.Messages = crm, crm
	}

	if cfg.SES.From != "" {
		sender, err := ses.NewFromConfig(ctx, cfg.SES, logger)
		if err != nil {
			return deps, err
		}

		deps.Email = sender
	}

	if cfg.Chat.BaseURL != "" {
		sender, err := chat.New(cfg.Chat, client, logger)
		if err != nil {
			return deps, err
		}

		deps.Messages = sender
	}

	return deps, nil
}
