package ledger_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-Labs/signet/pkg/contracts"
	"github.com/Signet-Labs/signet/pkg/ledger"
)

func newTestLedger() (*ledger.Ledger, *ledger.MemoryStore) {
	store := ledger.NewMemoryStore()
	return ledger.New(store, ledger.WithLogger(slog.Default())), store
}

func TestLogEventChainsEvents(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	first := l.LogEvent(ctx, ledger.Entry{
		EnvelopeID: "env-1",
		EventType:  contracts.EventEnvelopeCreated,
	})
	second := l.LogEvent(ctx, ledger.Entry{
		EnvelopeID: "env-1",
		SignerID:   "signer-1",
		EventType:  contracts.EventSignerViewed,
		IPAddress:  "203.0.113.7",
	})
	third := l.LogEvent(ctx, ledger.Entry{
		EnvelopeID: "env-1",
		SignerID:   "signer-1",
		EventType:  contracts.EventSignerCompleted,
	})

	assert.Empty(t, first.PreviousHash)
	assert.Equal(t, first.EventHash, second.PreviousHash)
	assert.Equal(t, second.EventHash, third.PreviousHash)
	assert.NotEmpty(t, third.EventHash)
}

func TestEventHashRecomputable(t *testing.T) {
	l, _ := newTestLedger()

	ev := l.LogEvent(context.Background(), ledger.Entry{
		EnvelopeID: "env-1",
		SignerID:   "signer-1",
		EventType:  contracts.EventSignerCompleted,
		EventData:  map[string]any{"field_count": 3, "method": "draw"},
		IPAddress:  "198.51.100.4",
	})

	recomputed, err := ledger.ComputeEventHash(ev)
	require.NoError(t, err)
	assert.Equal(t, ev.EventHash, recomputed)
}

func TestChainsAreIndependentPerEnvelope(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	a := l.LogEvent(ctx, ledger.Entry{EnvelopeID: "env-a", EventType: contracts.EventEnvelopeCreated})
	b := l.LogEvent(ctx, ledger.Entry{EnvelopeID: "env-b", EventType: contracts.EventEnvelopeCreated})

	assert.Empty(t, a.PreviousHash)
	assert.Empty(t, b.PreviousHash)
	assert.NotEqual(t, a.EventHash, b.EventHash)
}

func TestVerifyChain(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()

	for _, et := range []contracts.EventType{
		contracts.EventEnvelopeCreated,
		contracts.EventEnvelopeSent,
		contracts.EventSignerViewed,
		contracts.EventSignerCompleted,
		contracts.EventEnvelopeCompleted,
	} {
		l.LogEvent(ctx, ledger.Entry{EnvelopeID: "env-1", EventType: et})
	}

	require.NoError(t, l.VerifyChain(ctx, "env-1"))

	// Tamper with a middle event: both the hash mismatch on the edited
	// event and the broken linkage downstream must surface.
	events, err := store.ByEnvelope(ctx, "env-1")
	require.NoError(t, err)
	events[2].IPAddress = "10.0.0.1"

	err = l.VerifyChain(ctx, "env-1")
	var integrityErr *contracts.IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, "verify_chain", integrityErr.Op)
}

func TestVerifyChainEmptyEnvelope(t *testing.T) {
	l, _ := newTestLedger()
	assert.NoError(t, l.VerifyChain(context.Background(), "no-such-envelope"))
}

func TestConcurrentAppendsSerialize(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	const writers = 4
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.LogEvent(ctx, ledger.Entry{
				EnvelopeID: "env-1",
				EventType:  contracts.EventSignerViewed,
			})
		}()
	}
	wg.Wait()

	events, err := l.EventsForEnvelope(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, events, writers)

	// Every event links to its predecessor: no forks, no gaps.
	prev := ""
	for _, ev := range events {
		assert.Equal(t, prev, ev.PreviousHash)
		prev = ev.EventHash
	}
	require.NoError(t, l.VerifyChain(ctx, "env-1"))
}

// failingStore always refuses writes so the degrade path can be observed.
type failingStore struct {
	ledger.EventStore
}

func (failingStore) Head(ctx context.Context, envelopeID string) (string, error) {
	return "", nil
}

func (failingStore) Append(ctx context.Context, ev *contracts.AuditEvent) error {
	return errors.New("disk on fire")
}

func TestLogEventDegradesWithoutFailing(t *testing.T) {
	l := ledger.New(failingStore{})

	ev := l.LogEvent(context.Background(), ledger.Entry{
		EnvelopeID: "env-1",
		EventType:  contracts.EventSignerCompleted,
	})

	require.NotNil(t, ev)
	assert.Equal(t, true, ev.EventData["degraded"])
	assert.Contains(t, ev.EventData["error"], "disk on fire")

	select {
	case failure := <-l.Failures():
		assert.Equal(t, "env-1", failure.EnvelopeID)
		assert.Equal(t, contracts.EventSignerCompleted, failure.EventType)
	default:
		t.Fatal("expected a failure on the operational channel")
	}
}

func TestEventsForSigner(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	l.LogEvent(ctx, ledger.Entry{EnvelopeID: "env-1", SignerID: "s1", EventType: contracts.EventSignerViewed})
	l.LogEvent(ctx, ledger.Entry{EnvelopeID: "env-2", SignerID: "s1", EventType: contracts.EventSignerViewed})
	l.LogEvent(ctx, ledger.Entry{EnvelopeID: "env-1", SignerID: "s2", EventType: contracts.EventSignerViewed})

	events, err := l.EventsForSigner(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "env-1", events[0].EnvelopeID)
	assert.Equal(t, "env-2", events[1].EnvelopeID)
}

func TestRecentEvents(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.LogEvent(ctx, ledger.Entry{EnvelopeID: "env-1", EventType: contracts.EventSignerViewed})
	}
	last := l.LogEvent(ctx, ledger.Entry{EnvelopeID: "env-2", EventType: contracts.EventEnvelopeCreated})

	events, err := l.RecentEvents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, last.ID, events[0].ID)
}
