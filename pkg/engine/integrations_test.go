package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiweave/apiweave/pkg/errmap"
	"github.com/apiweave/apiweave/pkg/model/mintegration"
)

func TestUpsertIntegrationSanitizesID(t *testing.T) {
	fe := &fakeEngine{data: map[string]any{
		"upsertIntegration": map[string]any{"id": "my-stripe-account", "urlHost": "https://api.stripe.com"},
	}}
	c := newTestClient(t, fe)

	got, err := c.UpsertIntegration(context.Background(), "My Stripe Account!",
		mintegration.Integration{URLHost: "https://api.stripe.com"}, mintegration.UpsertModeCreate)
	require.NoError(t, err)
	assert.Equal(t, "my-stripe-account", got.ID)

	req := fe.lastRequest(t)
	assert.Equal(t, "my-stripe-account", req.variables["id"])
	assert.Equal(t, "CREATE", req.variables["mode"])
}

func TestUpsertIntegrationValidation(t *testing.T) {
	fe := &fakeEngine{}
	c := newTestClient(t, fe)

	_, err := c.UpsertIntegration(context.Background(), "!!!", mintegration.Integration{}, mintegration.UpsertModeCreate)
	assert.Equal(t, errmap.CodeValidation, errmap.CodeOf(err))

	fe.mu.Lock()
	defer fe.mu.Unlock()
	assert.Empty(t, fe.requests)
}

func TestPollIntegrationsWaitsForIngestion(t *testing.T) {
	fe := &fakeEngine{data: map[string]any{
		"getIntegration": map[string]any{"id": "stripe", "urlHost": "https://api.stripe.com", "documentationPending": true},
	}}
	c := newTestClient(t, fe)

	go func() {
		time.Sleep(30 * time.Millisecond)
		fe.mu.Lock()
		fe.data = map[string]any{
			"getIntegration": map[string]any{"id": "stripe", "urlHost": "https://api.stripe.com", "documentationPending": false},
		}
		fe.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.PollIntegrations(ctx, []string{"stripe"}, 10*time.Millisecond))

	fe.mu.Lock()
	defer fe.mu.Unlock()
	assert.GreaterOrEqual(t, len(fe.requests), 2, "pending integrations are polled again")
}

func TestPollIntegrationsHonorsContext(t *testing.T) {
	fe := &fakeEngine{data: map[string]any{
		"getIntegration": map[string]any{"id": "stripe", "urlHost": "https://api.stripe.com", "documentationPending": true},
	}}
	c := newTestClient(t, fe)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.PollIntegrations(ctx, []string{"stripe"}, 10*time.Millisecond)
	assert.Error(t, err)
}

func TestFilterIntegrations(t *testing.T) {
	items := []mintegration.Integration{
		{ID: "stripe", URLHost: "https://api.stripe.com"},
		{ID: "hubspot", URLHost: "https://api.hubapi.com"},
		{ID: "postgres-warehouse", URLHost: "postgres://warehouse.internal"},
	}

	t.Run("empty query returns everything", func(t *testing.T) {
		assert.Equal(t, items, FilterIntegrations(items, ""))
	})

	t.Run("matches id", func(t *testing.T) {
		got := FilterIntegrations(items, "stripe")
		require.NotEmpty(t, got)
		assert.Equal(t, "stripe", got[0].ID)
	})

	t.Run("matches host", func(t *testing.T) {
		got := FilterIntegrations(items, "hubapi")
		require.Len(t, got, 1)
		assert.Equal(t, "hubspot", got[0].ID)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, FilterIntegrations(items, "zendesk"))
	})
}
