package di

import (
	"context"
	"testing"
	"time"

	"engram-backend/internal/config"
	"engram-backend/internal/service/conversation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: config.Development,
		Storage:     config.Storage{Driver: "memory"},
		Index:       config.Index{Dim: 16},
		Extraction:  config.Extraction{Workers: 2, QueueSize: 16, HandlerTimeout: 5 * time.Second},
		Conversation: config.Conversation{
			SessionPolicy: "single_active",
			HistoryWindow: 10,
			TopK:          5,
		},
		Cache:   config.Cache{ProfileTTL: time.Minute, ProfileSize: 100},
		Logging: config.Logging{Level: "error", Format: "json"},
		Metrics: config.Metrics{Enabled: false},
	}
}

func TestInitializeContainer(t *testing.T) {
	ctx := context.Background()

	container, err := InitializeContainer(ctx, testConfig())
	require.NoError(t, err)
	defer container.Shutdown()

	require.NotNil(t, container.Facade)

	user, err := container.Facade.CreateUser(ctx, "Ada", "", nil)
	require.NoError(t, err)

	session, err := container.Facade.StartConversation(ctx, user.ID, "", nil)
	require.NoError(t, err)

	result, err := container.Facade.RecordTurn(ctx, conversation.RecordTurnInput{
		SessionID:     session.ID,
		UserText:      "My favorite food is sushi",
		AssistantText: "Noted!",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.UserTurn)
	assert.Equal(t, 2, result.AssistantTurn)

	container.Facade.Flush()

	profile, err := container.Facts.Profile(ctx, user.ID)
	require.NoError(t, err)
	assert.Contains(t, profile, "preference")
}

func TestInitializeContainer_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "postgres"

	_, err := InitializeContainer(context.Background(), cfg)
	assert.Error(t, err)
}
