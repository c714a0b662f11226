package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestRecordError(t *testing.T) {
	t.Parallel()

	t.Run("wraps sentinel errors", func(t *testing.T) {
		err := persistence.NewRecordError("ExecutionByID", "execution", "exec-1", persistence.ErrExecutionNotFound)

		assert.True(t, errors.Is(err, persistence.ErrExecutionNotFound))
		assert.True(t, persistence.IsNotFound(err))
		assert.False(t, persistence.IsExecutionImmutable(err))
	})

	t.Run("message contains context", func(t *testing.T) {
		err := persistence.NewRecordError("SaveExecution", "execution", "exec-9", persistence.ErrExecutionImmutable)

		assert.Contains(t, err.Error(), "SaveExecution")
		assert.Contains(t, err.Error(), "exec-9")
		assert.Contains(t, err.Error(), "immutable")
		assert.True(t, persistence.IsExecutionImmutable(err))
	})

	t.Run("message without id", func(t *testing.T) {
		err := persistence.NewRecordError("Flows", "flow", "", errors.New("boom"))

		assert.Equal(t, "Flows flow: boom", err.Error())
		assert.False(t, persistence.IsNotFound(err))
	})
}
