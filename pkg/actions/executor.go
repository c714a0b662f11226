// Package actions performs the side effects of flow and cadence steps
// through replaceable collaborators.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/template"
)

const DefaultDelegateTimeout = 30 * time.Second

// Dependencies are the collaborators actions delegate to. Nil collaborators
// make the matching actions fail permanently.
type Dependencies struct {
	Entities  EntityStore
	Email     Sender
	Messages  Sender
	Webhooks  WebhookCaller
	Tasks     TaskCreator
	Notifier  Notifier
	Templates TemplateStore
	Enroller  Enroller
}

// ExecContext identifies the attempt being executed.
type ExecContext struct {
	TenantID    string
	ExecutionID string
	Order       int
	Attempt     int
	Now         time.Time
}

// IdempotencyKey is passed to delegates so repeated attempts of one step can
// be deduplicated on their side.
func (c ExecContext) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", c.ExecutionID, c.Order)
}

// Result is the outcome of one action execution.
type Result struct {
	Output map[string]any
	Error  *StepError
	Events []models.DomainEvent
}

func (r Result) OK() bool {
	return r.Error == nil
}

type Executor struct {
	deps    Dependencies
	timeout time.Duration
	logger  *slog.Logger
}

func NewExecutor(deps Dependencies, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultDelegateTimeout
	}

	return &Executor{
		deps:    deps,
		timeout: timeout,
		logger:  logger.With("module", "action_executor"),
	}
}

// SetEnroller wires the cadence enroller once it exists.
func (e *Executor) SetEnroller(enroller Enroller) {
	e.deps.Enroller = enroller
}

// Execute validates the action configuration and runs it against entity.
func (e *Executor) Execute(ctx context.Context, action models.AutomationAction, entity *models.Entity, ec ExecContext) Result {
	if err := Validate(action); err != nil {
		return Result{Error: configurationError(err)}
	}

	if entity == nil {
		return Result{Error: &StepError{Kind: models.ErrorDelegate, Message: "entity snapshot unavailable", Retryable: true}}
	}

	if ec.Now.IsZero() {
		ec.Now = time.Now().UTC()
	}

	logger := e.logger.With(
		"action_type", action.Type,
		"execution_id", ec.ExecutionID,
		"order", ec.Order,
		"attempt", ec.Attempt,
	)
	logger.DebugContext(ctx, "executing action")

	vars := entity.Variables(ec.Now)

	var (
		output map[string]any
		events []models.DomainEvent
		err    error
	)

	switch action.Type {
	case models.ActionCreateTask:
		output, err = e.createTask(ctx, action.Config, entity, vars, ec)
	case models.ActionSendEmail:
		output, err = e.sendEmail(ctx, action.Config, entity, vars, ec)
	case models.ActionSendMessage:
		output, err = e.sendMessage(ctx, action.Config, entity, vars, ec)
	case models.ActionApplyTag:
		events, err = e.mutate(ctx, entity, models.Mutation{Kind: models.MutationApplyTag, TagID: str(action.Config, "tagId")})
	case models.ActionRemoveTag:
		events, err = e.mutate(ctx, entity, models.Mutation{Kind: models.MutationRemoveTag, TagID: str(action.Config, "tagId")})
	case models.ActionMoveStage:
		events, err = e.mutate(ctx, entity, models.Mutation{Kind: models.MutationMoveStage, Stage: str(action.Config, "targetStageId")})
	case models.ActionSendWebhook:
		output, err = e.sendWebhook(ctx, action.Config, vars, ec)
	case models.ActionNotifyUser:
		output, err = e.notifyUsers(ctx, action.Config, vars, ec)
	case models.ActionUpdateField:
		events, err = e.updateField(ctx, action.Config, entity, vars)
	case models.ActionAddToCadence:
		output, err = e.addToCadence(ctx, action.Config, entity)
	default:
		return Result{Error: configurationError(fmt.Errorf("%w: %s", ErrUnknownActionType, action.Type))}
	}

	if err != nil {
		stepErr := classify(err)
		logger.WarnContext(ctx, "action failed", "kind", stepErr.Kind, "retryable", stepErr.Retryable, "error", err)

		return Result{Error: stepErr}
	}

	if output == nil {
		output = map[string]any{}
	}

	return Result{Output: output, Events: events}
}

// call bounds one delegate call by the executor timeout.
func (e *Executor) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}

	return err
}

func (e *Executor) createTask(ctx context.Context, cfg models.Config, entity *models.Entity, vars map[string]any, ec ExecContext) (map[string]any, error) {
	if e.deps.Tasks == nil {
		return nil, fmt.Errorf("task creator: %w", ErrDelegateMissing)
	}

	offset, _ := cfg.Int("dueDateOffsetDays")

	task := Task{
		TenantID:       entity.TenantID,
		EntityID:       entity.ID,
		EntityKind:     entity.Kind,
		Title:          template.Render(str(cfg, "title"), vars),
		Description:    template.Render(str(cfg, "description"), vars),
		Assignee:       str(cfg, "assignee"),
		DueDate:        ec.Now.AddDate(0, 0, offset),
		Priority:       str(cfg, "priority"),
		IdempotencyKey: ec.IdempotencyKey(),
	}

	if task.Priority == "" {
		task.Priority = "medium"
	}

	var taskID string

	err := e.call(ctx, func(ctx context.Context) error {
		var err error

		taskID, err = e.deps.Tasks.CreateTask(ctx, task)

		return err
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"taskId": taskID, "dueDate": task.DueDate.Format(time.RFC3339)}, nil
}

func (e *Executor) resolveTemplate(ctx context.Context, tenantID, templateID string) (*models.MessageTemplate, error) {
	if e.deps.Templates == nil {
		return nil, fmt.Errorf("template store: %w", ErrDelegateMissing)
	}

	var tpl *models.MessageTemplate

	err := e.call(ctx, func(ctx context.Context) error {
		var err error

		tpl, err = e.deps.Templates.GetTemplate(ctx, tenantID, templateID)

		return err
	})
	if err != nil {
		return nil, err
	}

	if tpl == nil {
		return nil, fmt.Errorf("template %s: %w", templateID, ErrTemplateNotFound)
	}

	return tpl, nil
}

func (e *Executor) sendEmail(ctx context.Context, cfg models.Config, entity *models.Entity, vars map[string]any, ec ExecContext) (map[string]any, error) {
	if e.deps.Email == nil {
		return nil, fmt.Errorf("email sender: %w", ErrDelegateMissing)
	}

	subject, body := str(cfg, "subject"), str(cfg, "body")

	if templateID := str(cfg, "templateId"); templateID != "" {
		tpl, err := e.resolveTemplate(ctx, entity.TenantID, templateID)
		if err != nil {
			return nil, err
		}

		subject, body = tpl.Subject, tpl.Body
	}

	to := firstNonEmpty(str(cfg, "to"), entity.Email)
	if to == "" {
		return nil, fmt.Errorf("email for %s: %w", entity.ID, ErrRecipientMissing)
	}

	return e.send(ctx, e.deps.Email, Message{
		TenantID:       entity.TenantID,
		EntityID:       entity.ID,
		Channel:        models.ChannelEmail,
		To:             to,
		Subject:        template.Render(subject, vars),
		Body:           template.Render(body, vars),
		IdempotencyKey: ec.IdempotencyKey(),
	})
}

func (e *Executor) sendMessage(ctx context.Context, cfg models.Config, entity *models.Entity, vars map[string]any, ec ExecContext) (map[string]any, error) {
	if e.deps.Messages == nil {
		return nil, fmt.Errorf("message sender: %w", ErrDelegateMissing)
	}

	body := str(cfg, "message")

	if templateID := str(cfg, "templateId"); templateID != "" {
		tpl, err := e.resolveTemplate(ctx, entity.TenantID, templateID)
		if err != nil {
			return nil, err
		}

		body = tpl.Body
	}

	to := firstNonEmpty(str(cfg, "to"), entity.Phone)
	if to == "" {
		return nil, fmt.Errorf("phone for %s: %w", entity.ID, ErrRecipientMissing)
	}

	return e.send(ctx, e.deps.Messages, Message{
		TenantID:       entity.TenantID,
		EntityID:       entity.ID,
		Channel:        models.ChannelMessage,
		To:             to,
		Body:           template.Render(body, vars),
		IdempotencyKey: ec.IdempotencyKey(),
	})
}

func (e *Executor) send(ctx context.Context, sender Sender, msg Message) (map[string]any, error) {
	var res SendResult

	err := e.call(ctx, func(ctx context.Context) error {
		var err error

		res, err = sender.Send(ctx, msg)

		return err
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"providerMessageId": res.ProviderMessageID, "to": msg.To}, nil
}

func (e *Executor) mutate(ctx context.Context, entity *models.Entity, mutation models.Mutation) ([]models.DomainEvent, error) {
	if e.deps.Entities == nil {
		return nil, fmt.Errorf("entity store: %w", ErrDelegateMissing)
	}

	mutation.TenantID = entity.TenantID
	mutation.EntityID = entity.ID
	mutation.EntityKind = entity.Kind

	var event *models.DomainEvent

	err := e.call(ctx, func(ctx context.Context) error {
		var err error

		event, err = e.deps.Entities.ApplyMutation(ctx, mutation)

		return err
	})
	if err != nil {
		return nil, err
	}

	if event == nil {
		return nil, nil
	}

	return []models.DomainEvent{*event}, nil
}

func (e *Executor) updateField(ctx context.Context, cfg models.Config, entity *models.Entity, vars map[string]any) ([]models.DomainEvent, error) {
	value := cfg["fieldValue"]
	if s, ok := value.(string); ok {
		value = template.Render(s, vars)
	}

	return e.mutate(ctx, entity, models.Mutation{
		Kind:  models.MutationUpdateField,
		Field: str(cfg, "fieldName"),
		Value: value,
	})
}

func (e *Executor) sendWebhook(ctx context.Context, cfg models.Config, vars map[string]any, ec ExecContext) (map[string]any, error) {
	if e.deps.Webhooks == nil {
		return nil, fmt.Errorf("webhook caller: %w", ErrDelegateMissing)
	}

	method := strings.ToUpper(str(cfg, "method"))
	if method == "" {
		method = http.MethodPost
	}

	headers := map[string]string{}

	if raw, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = template.Render(s, vars)
			}
		}
	}

	req := WebhookRequest{
		URL:            template.Render(str(cfg, "url"), vars),
		Method:         method,
		Headers:        headers,
		Body:           template.Render(str(cfg, "body"), vars),
		IdempotencyKey: ec.IdempotencyKey(),
	}

	var res WebhookResponse

	err := e.call(ctx, func(ctx context.Context) error {
		var err error

		res, err = e.deps.Webhooks.Call(ctx, req)

		return err
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"statusCode": res.StatusCode, "body": res.Body}, nil
}

func (e *Executor) notifyUsers(ctx context.Context, cfg models.Config, vars map[string]any, ec ExecContext) (map[string]any, error) {
	if e.deps.Notifier == nil {
		return nil, fmt.Errorf("notifier: %w", ErrDelegateMissing)
	}

	n := Notification{
		TenantID:       ec.TenantID,
		UserIDs:        cfg.Strings("userIds"),
		Title:          template.Render(firstNonEmpty(str(cfg, "title"), "Automation"), vars),
		Message:        template.Render(str(cfg, "message"), vars),
		IdempotencyKey: ec.IdempotencyKey(),
	}

	err := e.call(ctx, func(ctx context.Context) error {
		return e.deps.Notifier.Notify(ctx, n)
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"notified": len(n.UserIDs)}, nil
}

func (e *Executor) addToCadence(ctx context.Context, cfg models.Config, entity *models.Entity) (map[string]any, error) {
	if e.deps.Enroller == nil {
		return nil, fmt.Errorf("enroller: %w", ErrDelegateMissing)
	}

	var (
		enrollment *models.CadenceEnrollment
		created    bool
	)

	err := e.call(ctx, func(ctx context.Context) error {
		var err error

		enrollment, created, err = e.deps.Enroller.Enroll(ctx, entity.TenantID, str(cfg, "cadenceId"), entity)

		return err
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"enrollmentId": enrollment.ID, "created": created}, nil
}

func str(cfg models.Config, key string) string {
	s, _ := cfg.String(key)

	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
