package chat

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzu-ai/anzu/internal/billing"
	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/search"
	"github.com/anzu-ai/anzu/internal/service/completion"
	"github.com/anzu-ai/anzu/internal/service/embedding"
	"github.com/anzu-ai/anzu/internal/storage"
	"github.com/anzu-ai/anzu/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Close(context.Background())
	os.Exit(code)
}

// newTestService wires a chat service with the noop embedder (no retrieval)
// and the noop completion client, so the full pipeline runs without any
// external dependency.
func newTestService(t *testing.T) (*Service, model.Tenant) {
	t.Helper()
	ctx := context.Background()

	billingSvc, err := billing.New(testDB, billing.Config{}, testutil.TestLogger())
	require.NoError(t, err)

	svc := New(
		testDB,
		embedding.NewNoopProvider(1024),
		search.NewPgSearcher(testDB),
		completion.NoopClient{},
		billingSvc,
		nil, // query logging covered separately
		testutil.TestLogger(),
	)

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{
		Name:         "Chat Test",
		Slug:         fmt.Sprintf("chat-%s", uuid.NewString()[:8]),
		MessageLimit: 3,
	})
	require.NoError(t, err)

	return svc, tenant
}

func TestChatNewConversation(t *testing.T) {
	svc, tenant := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Chat(ctx, tenant, "alice", model.ChatRequest{Message: "what is the refund policy?"})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, resp.ConversationID)
	assert.Equal(t, model.MessageRoleAssistant, resp.Message.Role)
	assert.NotEmpty(t, resp.Message.Content)
	assert.Empty(t, resp.Citations, "noop embedder retrieves nothing")

	// Both turns are persisted and the conversation is titled from the first
	// user message.
	msgs, total, err := testDB.ListMessages(ctx, tenant.ID, resp.ConversationID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.MessageRoleUser, msgs[0].Role)
	assert.Equal(t, model.MessageRoleAssistant, msgs[1].Role)

	conv, err := testDB.GetConversation(ctx, tenant.ID, resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "what is the refund policy?", conv.Title)
	assert.Equal(t, 2, conv.MessageCount)
}

func TestChatContinuesConversation(t *testing.T) {
	svc, tenant := newTestService(t)
	ctx := context.Background()

	first, err := svc.Chat(ctx, tenant, "alice", model.ChatRequest{Message: "first question"})
	require.NoError(t, err)

	second, err := svc.Chat(ctx, tenant, "alice", model.ChatRequest{
		ConversationID: &first.ConversationID,
		Message:        "follow-up question",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	_, total, err := testDB.ListMessages(ctx, tenant.ID, first.ConversationID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestChatConversationOwnership(t *testing.T) {
	svc, tenant := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Chat(ctx, tenant, "alice", model.ChatRequest{Message: "private question"})
	require.NoError(t, err)

	// Another user in the same tenant cannot continue alice's conversation.
	_, err = svc.Chat(ctx, tenant, "bob", model.ChatRequest{
		ConversationID: &resp.ConversationID,
		Message:        "intruding",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChatEnforcesMessageQuota(t *testing.T) {
	svc, tenant := newTestService(t) // MessageLimit: 3

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Chat(ctx, tenant, "alice", model.ChatRequest{Message: fmt.Sprintf("question %d", i)})
		require.NoError(t, err)
	}

	_, err := svc.Chat(ctx, tenant, "alice", model.ChatRequest{Message: "one too many"})
	assert.ErrorIs(t, err, billing.ErrQuotaExceeded)
}

// Without a billing service there is no advisory pre-check, so write-time
// enforcement is the only guard: the over-limit turn must fail and roll
// back both its messages and the usage increment.
func TestChatQuotaRollsBackOverLimitTurn(t *testing.T) {
	ctx := context.Background()

	svc := New(
		testDB,
		embedding.NewNoopProvider(1024),
		search.NewPgSearcher(testDB),
		completion.NoopClient{},
		nil,
		nil,
		testutil.TestLogger(),
	)

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{
		Name:         "Quota Rollback",
		Slug:         fmt.Sprintf("chat-%s", uuid.NewString()[:8]),
		MessageLimit: 2,
	})
	require.NoError(t, err)

	first, err := svc.Chat(ctx, tenant, "alice", model.ChatRequest{Message: "question one"})
	require.NoError(t, err)
	_, err = svc.Chat(ctx, tenant, "alice", model.ChatRequest{
		ConversationID: &first.ConversationID, Message: "question two",
	})
	require.NoError(t, err)

	_, err = svc.Chat(ctx, tenant, "alice", model.ChatRequest{
		ConversationID: &first.ConversationID, Message: "question three",
	})
	assert.ErrorIs(t, err, billing.ErrQuotaExceeded)

	// The rejected turn left nothing behind.
	_, total, err := testDB.ListMessages(ctx, tenant.ID, first.ConversationID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	usage, err := testDB.GetUsage(ctx, tenant.ID, billing.CurrentPeriod())
	require.NoError(t, err)
	assert.Equal(t, 2, usage.MessageCount)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	svc, tenant := newTestService(t)

	_, err := svc.Chat(context.Background(), tenant, "alice", model.ChatRequest{Message: ""})
	assert.Error(t, err)
}

func TestSearchRequiresQuery(t *testing.T) {
	svc, tenant := newTestService(t)

	_, err := svc.Search(context.Background(), tenant, "alice", model.SearchRequest{})
	assert.Error(t, err)
}
