package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threemagw/golang_services/internal/tfa_service/domain"
)

func TestConfirmationStore_RegisterSupersedes(t *testing.T) {
	store := NewConfirmationStore()
	ctx := context.Background()

	first := &domain.PendingConfirmation{
		SubjectID:       "AAAAAAAA",
		ProviderID:      "message_confirm",
		Purpose:         domain.PurposeLogin,
		CorrelationData: "0011223344556677",
		ExpiresAt:       time.Now().Add(time.Minute),
	}
	require.NoError(t, store.Register(ctx, first))

	second := *first
	second.CorrelationData = "8899aabbccddeeff"
	require.NoError(t, store.Register(ctx, &second))

	got, err := store.Find(ctx, first.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "8899aabbccddeeff", got.CorrelationData, "later registration should win")
}

func TestConfirmationStore_FindAbsentReturnsNilNil(t *testing.T) {
	store := NewConfirmationStore()

	got, err := store.Find(context.Background(), domain.ConfirmationKey{
		SubjectID:  "BBBBBBBB",
		ProviderID: "message_confirm",
		Purpose:    domain.PurposeSetup,
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConfirmationStore_RemoveIsIdempotent(t *testing.T) {
	store := NewConfirmationStore()
	ctx := context.Background()

	record := &domain.PendingConfirmation{
		SubjectID:  "AAAAAAAA",
		ProviderID: "message_confirm",
		Purpose:    domain.PurposeLogin,
	}
	require.NoError(t, store.Register(ctx, record))

	require.NoError(t, store.Remove(ctx, record.Key()))
	require.NoError(t, store.Remove(ctx, record.Key()), "removing an absent key must not error")

	got, err := store.Find(ctx, record.Key())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConfirmationStore_FindReturnsCopy(t *testing.T) {
	store := NewConfirmationStore()
	ctx := context.Background()

	record := &domain.PendingConfirmation{
		SubjectID:       "AAAAAAAA",
		ProviderID:      "message_confirm",
		Purpose:         domain.PurposeLogin,
		CorrelationData: "0011223344556677",
	}
	require.NoError(t, store.Register(ctx, record))

	got, err := store.Find(ctx, record.Key())
	require.NoError(t, err)
	got.CorrelationData = "mutated"

	again, err := store.Find(ctx, record.Key())
	require.NoError(t, err)
	assert.Equal(t, "0011223344556677", again.CorrelationData)
}

func TestConfirmationStore_ConcurrentRegisterLeavesSingleRecord(t *testing.T) {
	store := NewConfirmationStore()
	ctx := context.Background()
	key := domain.ConfirmationKey{SubjectID: "AAAAAAAA", ProviderID: "message_confirm", Purpose: domain.PurposeLogin}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.Register(ctx, &domain.PendingConfirmation{
				SubjectID:       key.SubjectID,
				ProviderID:      key.ProviderID,
				Purpose:         key.Purpose,
				CorrelationData: "writer",
			})
		}(i)
	}
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.records, 1)
}

func TestSetupSessionStore_RoundTrip(t *testing.T) {
	store := NewSetupSessionStore()
	ctx := context.Background()

	session := &domain.SetupSession{
		UserID:     "42",
		ProviderID: "message_confirm",
		SubjectID:  "AAAAAAAA",
		SessionID:  "sess-1",
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, store.Register(ctx, session))

	got, err := store.Find(ctx, session.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "AAAAAAAA", got.SubjectID)

	require.NoError(t, store.Remove(ctx, session.Key()))
	got, err = store.Find(ctx, session.Key())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProviderStateRepository_LoadBySubject(t *testing.T) {
	repo := NewProviderStateRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.TfaProviderState{
		UserID:    "42",
		SubjectID: "AAAAAAAA",
		Status:    domain.StatusActive,
	}))

	got, err := repo.LoadBySubject(ctx, "AAAAAAAA")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "42", got.UserID)

	absent, err := repo.LoadBySubject(ctx, "ZZZZZZZZ")
	require.NoError(t, err)
	assert.Nil(t, absent)
}
