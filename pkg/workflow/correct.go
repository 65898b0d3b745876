package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Signet-Labs/signet/pkg/contracts"
	"github.com/Signet-Labs/signet/pkg/ledger"
)

// SignerUpdate changes an existing signer's contact details.
type SignerUpdate struct {
	SignerID string `json:"signer_id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// NewSigner describes a signer appended by a correction.
type NewSigner struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Order int    `json:"order"`
}

// Corrections is the full diff a correction applies. The parts apply in
// a fixed order: signer updates, signer additions, signer removals,
// field additions, field removals.
type Corrections struct {
	UpdateSigners   []SignerUpdate     `json:"update_signers,omitempty"`
	AddSigners      []NewSigner        `json:"add_signers,omitempty"`
	RemoveSignerIDs []string           `json:"remove_signer_ids,omitempty"`
	AddFields       []*contracts.Field `json:"add_fields,omitempty"`
	RemoveFieldIDs  []string           `json:"remove_field_ids,omitempty"`
}

func (c Corrections) empty() bool {
	return len(c.UpdateSigners) == 0 && len(c.AddSigners) == 0 &&
		len(c.RemoveSignerIDs) == 0 && len(c.AddFields) == 0 && len(c.RemoveFieldIDs) == 0
}

// CorrectEnvelope applies a correction as one atomic unit. Terminal
// envelopes reject it; removing a signer who already completed or
// declined rejects it, since their record anchors the evidence chain.
// Every signer still in a non-terminal status gets their token voided
// and reissued, so links sent before the correction are dead. One audit
// event summarizes the whole diff.
func (e *Engine) CorrectEnvelope(ctx context.Context, envelopeID string, corr Corrections) (*contracts.Envelope, error) {
	if corr.empty() {
		return nil, &contracts.ValidationError{Field: "corrections", Reason: "correction is empty"}
	}

	var reissues []tokenReissue
	env, err := e.store.Update(ctx, envelopeID, func(env *contracts.Envelope) error {
		if env.Status.Terminal() {
			return &contracts.IllegalStateError{
				Op:     "correct_envelope",
				Reason: fmt.Sprintf("Cannot correct envelope with status: %s", env.Status),
			}
		}

		for _, upd := range corr.UpdateSigners {
			signer := env.FindSigner(upd.SignerID)
			if signer == nil {
				return &contracts.NotFoundError{Kind: "signer", ID: upd.SignerID}
			}
			if upd.Name != "" {
				signer.Name = upd.Name
			}
			if upd.Email != "" {
				signer.Email = upd.Email
			}
		}

		for _, add := range corr.AddSigners {
			if add.Email == "" {
				return &contracts.ValidationError{Field: "add_signers.email", Reason: "new signer needs an email"}
			}
			env.Signers = append(env.Signers, &contracts.Signer{
				ID:         uuid.New().String(),
				EnvelopeID: env.ID,
				Name:       add.Name,
				Email:      add.Email,
				Order:      add.Order,
				Status:     contracts.SignerPending,
			})
		}

		for _, removeID := range corr.RemoveSignerIDs {
			signer := env.FindSigner(removeID)
			if signer == nil {
				return &contracts.NotFoundError{Kind: "signer", ID: removeID}
			}
			if signer.Status.Terminal() {
				return &contracts.IllegalStateError{
					Op:     "correct_envelope",
					Reason: fmt.Sprintf("Cannot remove signer with status: %s", signer.Status),
				}
			}
			kept := env.Signers[:0]
			for _, s := range env.Signers {
				if s.ID != removeID {
					kept = append(kept, s)
				}
			}
			env.Signers = kept
		}

		for _, field := range corr.AddFields {
			cp := *field
			if cp.ID == "" {
				cp.ID = uuid.New().String()
			}
			if cp.SignerID != "" && env.FindSigner(cp.SignerID) == nil {
				return &contracts.NotFoundError{Kind: "signer", ID: cp.SignerID}
			}
			env.Fields = append(env.Fields, &cp)
		}

		for _, removeID := range corr.RemoveFieldIDs {
			if env.FindField(removeID) == nil {
				return &contracts.NotFoundError{Kind: "field", ID: removeID}
			}
			kept := env.Fields[:0]
			for _, f := range env.Fields {
				if f.ID != removeID {
					kept = append(kept, f)
				}
			}
			env.Fields = kept
		}

		// Every surviving non-terminal signer gets a fresh token; the
		// old values can never open a ceremony again.
		for _, signer := range env.Signers {
			if signer.Status.Terminal() {
				continue
			}
			re, err := mintToken(signer, e.tokenTTL)
			if err != nil {
				return err
			}
			reissues = append(reissues, re)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.syncTokenIndex(ctx, reissues)

	e.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: envelopeID,
		EventType:  contracts.EventEnvelopeCorrected,
		EventData: map[string]any{
			"signers_updated": len(corr.UpdateSigners),
			"signers_added":   len(corr.AddSigners),
			"signers_removed": len(corr.RemoveSignerIDs),
			"fields_added":    len(corr.AddFields),
			"fields_removed":  len(corr.RemoveFieldIDs),
			"tokens_reissued": len(reissues),
		},
	})
	return env, nil
}
