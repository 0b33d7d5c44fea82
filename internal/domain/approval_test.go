package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalTransitions(t *testing.T) {
	app := &ApprovalRequest{Status: ApprovalPending}

	require.NoError(t, app.CanTransitionTo(ApprovalApproved))
	require.NoError(t, app.CanTransitionTo(ApprovalRejected))
	require.NoError(t, app.CanTransitionTo(ApprovalExpired))

	assert.ErrorIs(t, app.CanTransitionTo(ApprovalPending), ErrInvalidTransition)

	// Терминальные статусы неизменяемы
	for _, terminal := range []ApprovalStatus{ApprovalApproved, ApprovalRejected, ApprovalExpired} {
		app := &ApprovalRequest{Status: terminal}
		assert.ErrorIs(t, app.CanTransitionTo(ApprovalApproved), ErrAlreadyProcessed)
	}
}

func TestApprovalIsExpired(t *testing.T) {
	now := time.Now()

	pending := &ApprovalRequest{Status: ApprovalPending, ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, pending.IsExpired(now), "pending past deadline reads as expired")

	fresh := &ApprovalRequest{Status: ApprovalPending, ExpiresAt: now.Add(time.Minute)}
	assert.False(t, fresh.IsExpired(now))

	// Уже разрешенная заявка не истекает, даже если дедлайн прошел
	resolved := &ApprovalRequest{Status: ApprovalApproved, ExpiresAt: now.Add(-time.Hour)}
	assert.False(t, resolved.IsExpired(now))
}
