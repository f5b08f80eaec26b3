package di

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/platform/config"
	"github.com/groupdine/api/internal/repositories/memory"
	"github.com/groupdine/api/internal/services"
)

func testConfig() config.Config {
	return config.Config{
		Security: config.SecurityConfig{Environment: "test"},
		TeamCart: config.TeamCartConfig{
			DefaultCurrency:         "USD",
			TTL:                     time.Hour,
			DeliveryFee:             decimal.Zero,
			TaxRate:                 decimal.Zero,
			MaxMembers:              5,
			SweepInterval:           time.Minute,
			SweepBatchSize:          10,
			ReconciliationTolerance: decimal.RequireFromString("0.01"),
		},
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), testConfig(), nil, Infrastructure{})
	require.Error(t, err)
}

func TestNewContainerWiresTeamCartLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	var events []string

	container, err := NewContainer(ctx, testConfig(), memory.NewStore(), Infrastructure{
		Clock: func() time.Time { return now },
		Logger: func(component string) Logger {
			return func(_ context.Context, event string, _ map[string]any) {
				events = append(events, component+":"+event)
			}
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close(ctx) })

	require.NotNil(t, container.Services.TeamCarts)
	require.NotNil(t, container.Services.Expiration)
	require.NotNil(t, container.Services.System)
	require.Nil(t, container.Services.Webhooks, "webhooks need a parser and an inbox")

	cart, err := container.Services.TeamCarts.CreateTeamCart(ctx, services.CreateTeamCartCommand{
		UserID:       "host",
		HostName:     "Hana",
		RestaurantID: "rest_1",
	})
	require.NoError(t, err)
	require.Equal(t, "USD", cart.Currency)
	require.Equal(t, now.Add(time.Hour), cart.ExpiresAt)

	now = now.Add(2 * time.Hour)
	summary, err := container.Services.System.RunExpirationSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Expired)

	expired, err := container.Services.TeamCarts.GetTeamCart(ctx, cart.ID, "host")
	require.NoError(t, err)
	require.Equal(t, domain.TeamCartExpired, expired.Status)
	require.NotEmpty(t, events)
}
