package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-Labs/signet/pkg/contracts"
	"github.com/Signet-Labs/signet/pkg/workflow"
)

func newSQLiteStore(t *testing.T) *workflow.SQLiteStore {
	t.Helper()
	store, err := workflow.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	env := &contracts.Envelope{
		ID:           "env-1",
		Subject:      "NDA",
		SigningOrder: contracts.OrderSequential,
		Status:       contracts.EnvelopeDraft,
		Signers: []*contracts.Signer{
			{ID: "s1", EnvelopeID: "env-1", Email: "a@example.com", Order: 1, Status: contracts.SignerPending},
		},
	}
	require.NoError(t, store.Create(ctx, env))

	got, err := store.Get(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, "NDA", got.Subject)
	require.Len(t, got.Signers, 1)

	_, err = store.Get(ctx, "missing")
	var notFound *contracts.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestSQLiteStoreUpdateIsAtomic(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	env := &contracts.Envelope{
		ID:           "env-1",
		SigningOrder: contracts.OrderSequential,
		Status:       contracts.EnvelopeDraft,
		Signers: []*contracts.Signer{
			{ID: "s1", EnvelopeID: "env-1", Email: "a@example.com", Order: 1, Status: contracts.SignerPending},
		},
	}
	require.NoError(t, store.Create(ctx, env))

	_, err := store.Update(ctx, "env-1", func(e *contracts.Envelope) error {
		e.Subject = "should not persist"
		return &contracts.IllegalStateError{Op: "test", Reason: "boom"}
	})
	require.Error(t, err)

	got, err := store.Get(ctx, "env-1")
	require.NoError(t, err)
	assert.Empty(t, got.Subject)
}

func TestSQLiteStoreTokenLookup(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	env := &contracts.Envelope{
		ID:           "env-1",
		SigningOrder: contracts.OrderParallel,
		Status:       contracts.EnvelopeSent,
		Signers: []*contracts.Signer{
			{ID: "s1", EnvelopeID: "env-1", Email: "a@example.com", Order: 1, Status: contracts.SignerSent, SigningToken: "tok-abc"},
		},
	}
	require.NoError(t, store.Create(ctx, env))

	signer, err := store.FindSignerByToken(ctx, "tok-abc")
	require.NoError(t, err)
	assert.Equal(t, "s1", signer.ID)

	_, err = store.FindSignerByToken(ctx, "tok-unknown")
	var notFound *contracts.NotFoundError
	require.ErrorAs(t, err, &notFound)

	signer.SigningToken = ""
	require.NoError(t, store.UpdateSigner(ctx, signer))
	_, err = store.FindSignerByToken(ctx, "tok-abc")
	require.ErrorAs(t, err, &notFound)
}
