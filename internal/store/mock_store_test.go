// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on touch-on-message, cascade delete, copies, and search context

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ConversationRoundTrip(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	conv := testConversation("conv-1", "en", "hi")
	require.NoError(t, store.CreateConversation(ctx, conv))

	got, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "en", got.DoctorLanguage)
	assert.Equal(t, "hi", got.PatientLanguage)
	assert.Equal(t, 0, got.MessageCount)

	// Mutating the returned copy must not affect stored state
	got.Title = "changed"
	again, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, again.Title)
}

func TestMockStore_CreateMessage_UnknownConversation(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	err := store.CreateMessage(ctx, testMessage("m1", "missing", RoleDoctor, time.Now()))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockStore_CreateMessage_Touches(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	conv := testConversation("conv-1", "en", "es")
	require.NoError(t, store.CreateConversation(ctx, conv))

	later := conv.UpdatedAt.Add(time.Minute)
	require.NoError(t, store.CreateMessage(ctx, testMessage("m1", "conv-1", RoleDoctor, later)))

	got, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(later))
	assert.Equal(t, 1, got.MessageCount)
}

func TestMockStore_DeleteCascades(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, testConversation("conv-1", "en", "es")))
	require.NoError(t, store.CreateMessage(ctx, testMessage("m1", "conv-1", RoleDoctor, time.Now())))

	require.NoError(t, store.DeleteConversation(ctx, "conv-1"))

	_, err := store.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, store.DeleteConversation(ctx, "conv-1"), ErrNotFound)
}

func TestMockStore_SearchContext(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, testConversation("conv-1", "en", "es")))
	base := time.Now().UTC()
	for i, text := range []string{"before", "the Fever started", "after"} {
		msg := testMessage(text, "conv-1", RolePatient, base.Add(time.Duration(i)*time.Second))
		msg.OriginalText = text
		require.NoError(t, store.CreateMessage(ctx, msg))
	}

	results, err := store.SearchMessages(ctx, "fever", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "before", results[0].ContextBefore)
	assert.Equal(t, "after", results[0].ContextAfter)

	results, err = store.SearchMessages(ctx, "nothing-matches", 0)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestMockStore_SearchAccentedText(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, testConversation("conv-1", "en", "es")))
	msg := testMessage("m1", "conv-1", RoleDoctor, time.Now().UTC())
	msg.OriginalText = "Ángel has fever"
	msg.TranslatedText = "ÉL TIENE FIEBRE"
	require.NoError(t, store.CreateMessage(ctx, msg))

	for _, query := range []string{"Ángel", "ángel", "ÁNGEL", "FEVER", "él tiene", "Él Tiene"} {
		results, err := store.SearchMessages(ctx, query, 0)
		require.NoError(t, err)
		if assert.Len(t, results, 1, query) {
			assert.Equal(t, "m1", results[0].MessageID)
		}
	}

	results, err := store.SearchMessages(ctx, "angel", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
