package mocks

import (
	"context"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockEntityStore is a mock implementation of actions.EntityStore.
type MockEntityStore struct {
	mock.Mock
}

func (m *MockEntityStore) GetEntity(ctx context.Context, tenantID, entityID string) (*models.Entity, error) {
	args := m.Called(ctx, tenantID, entityID)

	entity, _ := args.Get(0).(*models.Entity)

	return entity, args.Error(1)
}

func (m *MockEntityStore) ListEntities(ctx context.Context, tenantID string, kind models.EntityKind) ([]*models.Entity, error) {
	args := m.Called(ctx, tenantID, kind)

	entities, _ := args.Get(0).([]*models.Entity)

	return entities, args.Error(1)
}

func (m *MockEntityStore) ApplyMutation(ctx context.Context, mutation models.Mutation) (*models.DomainEvent, error) {
	args := m.Called(ctx, mutation)

	event, _ := args.Get(0).(*models.DomainEvent)

	return event, args.Error(1)
}

// MockSender is a mock implementation of actions.Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg actions.Message) (actions.SendResult, error) {
	args := m.Called(ctx, msg)

	return args.Get(0).(actions.SendResult), args.Error(1)
}

// MockWebhookCaller is a mock implementation of actions.WebhookCaller.
type MockWebhookCaller struct {
	mock.Mock
}

func (m *MockWebhookCaller) Call(ctx context.Context, req actions.WebhookRequest) (actions.WebhookResponse, error) {
	args := m.Called(ctx, req)

	return args.Get(0).(actions.WebhookResponse), args.Error(1)
}

// MockTaskCreator is a mock implementation of actions.TaskCreator.
type MockTaskCreator struct {
	mock.Mock
}

func (m *MockTaskCreator) CreateTask(ctx context.Context, task actions.Task) (string, error) {
	args := m.Called(ctx, task)

	return args.String(0), args.Error(1)
}

// MockNotifier is a mock implementation of actions.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n actions.Notification) error {
	args := m.Called(ctx, n)

	return args.Error(0)
}

// MockTemplateStore is a mock implementation of actions.TemplateStore.
type MockTemplateStore struct {
	mock.Mock
}

func (m *MockTemplateStore) GetTemplate(ctx context.Context, tenantID, templateID string) (*models.MessageTemplate, error) {
	args := m.Called(ctx, tenantID, templateID)

	tpl, _ := args.Get(0).(*models.MessageTemplate)

	return tpl, args.Error(1)
}

// MockEnroller is a mock implementation of actions.Enroller.
type MockEnroller struct {
	mock.Mock
}

func (m *MockEnroller) Enroll(ctx context.Context, tenantID, cadenceID string, entity *models.Entity) (*models.CadenceEnrollment, bool, error) {
	args := m.Called(ctx, tenantID, cadenceID, entity)

	enrollment, _ := args.Get(0).(*models.CadenceEnrollment)

	return enrollment, args.Bool(1), args.Error(2)
}
