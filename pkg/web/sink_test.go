package web_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/mocks"
	"github.com/dukex/crmflow/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestBusSink_PublishFailure(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "lead-1", mock.MatchedBy(func(e events.DomainEventReceived) bool {
		return e.Event.TenantID == tenant && e.GetType() == events.DomainEventReceivedType
	})).Return(errors.New("broker unavailable")).Once()

	f := setupTestApp(t, web.NewBusSink(bus))

	status, body := f.do(t, http.MethodPost, "/events", newRecordEvent())
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", problemType(t, body))

	bus.AssertExpectations(t)
}
