package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Signet-Labs/signet/pkg/blob"
	"github.com/Signet-Labs/signet/pkg/ceremony"
	"github.com/Signet-Labs/signet/pkg/config"
	"github.com/Signet-Labs/signet/pkg/contracts"
	"github.com/Signet-Labs/signet/pkg/docstore"
	"github.com/Signet-Labs/signet/pkg/ledger"
	"github.com/Signet-Labs/signet/pkg/notify"
	"github.com/Signet-Labs/signet/pkg/observability"
	"github.com/Signet-Labs/signet/pkg/render"
	"github.com/Signet-Labs/signet/pkg/seal"
	"github.com/Signet-Labs/signet/pkg/workflow"
)

// runDemo drives one envelope through the complete trust core: create,
// send, token ceremonies, completion, sealing, encrypted storage and
// chain verification. Everything runs in-process; the only disk state
// is the blob directory.
func runDemo(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var dir string
	cmd.StringVar(&dir, "dir", "", "Blob directory (default: a temp dir)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if err := demo(stdout, dir); err != nil {
		_, _ = fmt.Fprintf(stderr, "demo failed: %v\n", err)
		return 1
	}
	return 0
}

func demo(stdout io.Writer, dir string) error {
	ctx := context.Background()

	if dir == "" {
		tmp, err := os.MkdirTemp("", "signet-demo-*")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(tmp) }()
		dir = tmp
	}

	cfg := config.Load()
	if cfg.Passphrase == "" {
		cfg.Passphrase = "demo-passphrase"
	}

	obs, err := observability.Setup(ctx, observability.Config{
		ServiceName:    "signet-demo",
		ServiceVersion: seal.EngineVersion,
		Environment:    "demo",
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	// Explicitly constructed services, shared by reference.
	auditLog := ledger.New(ledger.NewMemoryStore())
	envelopes := workflow.NewMemoryStore()
	tokenIndex := ceremony.NewMemoryIndex()
	dispatcher := &notify.LogDispatcher{}
	engine := workflow.NewEngine(envelopes, auditLog,
		workflow.WithNotifier(dispatcher),
		workflow.WithTokenIndex(tokenIndex))
	tokens := ceremony.NewManager(envelopes, auditLog,
		ceremony.WithIndex(tokenIndex),
		ceremony.WithNotifier(dispatcher))
	sealer := seal.NewSealer(&seal.SelfSignedProvider{}, auditLog)

	fileStore, err := blob.NewFileStore(dir, "", []byte("demo-url-signing-key"))
	if err != nil {
		return err
	}
	keys := docstore.NewKeySource(cfg.Passphrase, []byte(cfg.KeySalt))
	documents := docstore.New(fileStore, keys)

	env, err := engine.CreateEnvelope(ctx, &contracts.Envelope{
		Subject:      "Consulting Agreement",
		SigningOrder: contracts.OrderSequential,
		Signers: []*contracts.Signer{
			{Name: "Ada Muster", Email: "ada@example.com", Order: 1},
			{Name: "Grace Beispiel", Email: "grace@example.com", Order: 2},
		},
		Fields: []*contracts.Field{
			{ID: "amount", Name: "Contract Amount", Type: "text", Required: true},
		},
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "created envelope %s\n", env.ID)

	env, err = engine.Send(ctx, env.ID)
	if err != nil {
		return err
	}

	// Each signer's ceremony: validate token, view, complete.
	for _, signerID := range []string{env.Signers[0].ID, env.Signers[1].ID} {
		signer, err := envelopes.GetSigner(ctx, signerID)
		if err != nil {
			return err
		}

		v, err := tokens.ValidateToken(ctx, signer.SigningToken)
		if err != nil {
			return err
		}
		if !v.Valid {
			return fmt.Errorf("token for %s rejected: %s", signer.Email, v.Reason)
		}
		if err := engine.MarkSignerViewed(ctx, env.ID, signerID, "203.0.113.7", "signet-demo"); err != nil {
			return err
		}
		result, err := engine.OnSignerCompleted(ctx, env.ID, signerID, map[string]string{"amount": "15000"})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "signer %s completed (envelope complete: %v)\n", signer.Email, result.IsComplete)
	}

	env, err = envelopes.Get(ctx, env.ID)
	if err != nil {
		return err
	}
	var renderer render.Renderer = render.PassthroughRenderer{}
	rendered, err := renderer.ApplyFieldValues(ctx, []byte("%PDF-1.7 demo consulting agreement"), env.Fields)
	if err != nil {
		return err
	}
	sealed, artifact, err := sealer.SealDocument(ctx, env.ID, rendered, []contracts.IdentityEvidence{
		{SignerID: env.Signers[0].ID, Verified: true, Method: "sms_otp", Provider: "demo"},
		{SignerID: env.Signers[1].ID, Verified: true, Method: "sms_otp", Provider: "demo"},
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "sealed artifact: hash %s, level %s\n", artifact.DocumentHash, artifact.Level)

	key, err := documents.Upload(ctx, sealed, map[string]string{"envelope_id": env.ID})
	if err != nil {
		return err
	}
	auditLog.LogEvent(ctx, ledger.Entry{
		EnvelopeID: env.ID,
		EventType:  contracts.EventDocumentStored,
		EventData:  map[string]any{"key": key},
	})
	roundTrip, err := documents.Download(ctx, key)
	if err != nil {
		return err
	}
	verification, err := seal.VerifySealedDocument(roundTrip)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "stored at %s, seal valid after round trip: %v\n", key, verification.Valid)

	if err := auditLog.VerifyChain(ctx, env.ID); err != nil {
		return err
	}
	events, err := auditLog.EventsForEnvelope(ctx, env.ID)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "audit chain verified (%d events):\n%s", len(events), ledger.ExportTimeline(events))
	return nil
}
