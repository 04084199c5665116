package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("load run: %w", NotFound("run %q", "r1"))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, `load run: not found: run "r1"`, err.Error())
}

func TestAgentExecutionKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := AgentExecution("site-assessment", cause)

	assert.True(t, IsAgentExecution(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "agent execution failed: agent site-assessment: boom", err.Error())

	var ae *Error
	assert.True(t, errors.As(err, &ae))
	assert.Equal(t, ErrAgentExecution, ae.Kind)
}

func TestInvalidTransition(t *testing.T) {
	err := InvalidTransition("graph %s is locked", "g1")
	assert.True(t, IsInvalidTransition(err))
	assert.False(t, IsNotFound(err))
}
