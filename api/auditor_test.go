package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditor_RunNowReportsDrift(t *testing.T) {
	env := setupScenarioEnv(t)
	_, err := env.handler.loadBalanceDriftScenario(context.Background())
	require.NoError(t, err)

	auditor := NewReconciliationAuditor(env.handler.Ledger, time.Hour, nil)
	result := auditor.RunNow(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, 2, result.Technicians)
	assert.Equal(t, 1, result.Inconsistent)
	assert.Equal(t, result, auditor.LastResult())
}

func TestAuditor_ZeroIntervalIsDisabled(t *testing.T) {
	env := newTestEnv(t)
	auditor := NewReconciliationAuditor(env.handler.Ledger, 0, nil)

	auditor.Start()
	assert.Nil(t, auditor.ticker)
	auditor.Stop()
	assert.True(t, auditor.LastResult().At.IsZero())
}

func TestAuditor_StartRunsImmediately(t *testing.T) {
	env := newTestEnv(t)
	env.seedTechnician(t, "tech-1", 100)

	auditor := NewReconciliationAuditor(env.handler.Ledger, time.Hour, nil)
	auditor.Start()
	defer auditor.Stop()

	assert.Eventually(t, func() bool {
		return auditor.LastResult().Technicians == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, auditor.LastResult().Inconsistent)
}
