package test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/construkt/store"
)

func TestChatLogStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	for i := 0; i < 3; i++ {
		created, err := ts.CreateChatLog(ctx, &store.ChatLog{
			OwnerID:    "7",
			SessionID:  "s1",
			Message:    fmt.Sprintf("question %d", i),
			Response:   fmt.Sprintf("answer %d", i),
			Intent:     "product_search",
			Confidence: 0.5,
			CreatedTs:  int64(1000 + i),
		})
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
	}
	_, err := ts.CreateChatLog(ctx, &store.ChatLog{OwnerID: "8", Message: "hi", CreatedTs: 5000})
	require.NoError(t, err)

	owner := "7"
	logs, err := ts.ListChatLogs(ctx, &store.FindChatLog{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "question 2", logs[0].Message, "newest first")
	assert.Equal(t, "answer 0", logs[2].Response)

	logs, err = ts.ListChatLogs(ctx, &store.FindChatLog{OwnerID: &owner, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	session := "s1"
	logs, err = ts.ListChatLogs(ctx, &store.FindChatLog{SessionID: &session})
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	all, err := ts.ListChatLogs(ctx, &store.FindChatLog{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
