// Package workflow is the envelope routing state machine: it decides
// which signer may act next, advances envelope state on completion and
// decline, evaluates routing rules and applies corrections.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Signet-Labs/signet/pkg/ceremony"
	"github.com/Signet-Labs/signet/pkg/contracts"
	"github.com/Signet-Labs/signet/pkg/ledger"
	"github.com/Signet-Labs/signet/pkg/notify"
)

// Engine advances envelopes through their signing lifecycle. It is
// constructed once at process start and shared; all state lives in the
// EnvelopeStore.
type Engine struct {
	store    EnvelopeStore
	ledger   *ledger.Ledger
	notifier notify.Dispatcher
	index    ceremony.TokenIndex
	logger   *slog.Logger
	tokenTTL time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNotifier sets the outbound fact dispatcher.
func WithNotifier(d notify.Dispatcher) EngineOption {
	return func(e *Engine) { e.notifier = d }
}

// WithTokenIndex shares the ceremony manager's token index so tokens
// minted during send and correction are immediately resolvable.
func WithTokenIndex(idx ceremony.TokenIndex) EngineOption {
	return func(e *Engine) { e.index = idx }
}

// WithTokenTTL sets the lifetime of tokens the engine issues.
func WithTokenTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		if ttl > 0 {
			e.tokenTTL = ttl
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a workflow engine over the given store and ledger.
func NewEngine(store EnvelopeStore, auditLog *ledger.Ledger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		ledger:   auditLog,
		notifier: &notify.LogDispatcher{},
		index:    ceremony.NewMemoryIndex(),
		logger:   slog.Default(),
		tokenTTL: ceremony.DefaultTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NextSigners resolves who may act now. Parallel envelopes return every
// non-terminal signer. Sequential envelopes group signers by order and
// return the non-terminal members of the lowest order whose group has
// not fully finished; a whole group must reach completed or declined
// before the next order activates. Empty once everyone is terminal.
func NextSigners(env *contracts.Envelope) []*contracts.Signer {
	if env.SigningOrder == contracts.OrderParallel {
		var out []*contracts.Signer
		for _, s := range env.Signers {
			if !s.Status.Terminal() {
				out = append(out, s)
			}
		}
		return out
	}

	groups := make(map[int][]*contracts.Signer)
	var orders []int
	for _, s := range env.Signers {
		if _, seen := groups[s.Order]; !seen {
			orders = append(orders, s.Order)
		}
		groups[s.Order] = append(groups[s.Order], s)
	}
	sort.Ints(orders)

	for _, order := range orders {
		var open []*contracts.Signer
		for _, s := range groups[order] {
			if !s.Status.Terminal() {
				open = append(open, s)
			}
		}
		if len(open) > 0 {
			return open
		}
	}
	return nil
}

// CanSignerSign reports whether the signer may act on the envelope
// right now. A delayed signer stays ineligible until their hold expires.
func CanSignerSign(env *contracts.Envelope, signer *contracts.Signer) bool {
	if env.Status != contracts.EnvelopeSent && env.Status != contracts.EnvelopePending {
		return false
	}
	if signer.Status.Terminal() {
		return false
	}
	if signer.Status == contracts.SignerDelayed && signer.DelayedUntil != nil && signer.DelayedUntil.After(nowUTC()) {
		return false
	}
	for _, next := range NextSigners(env) {
		if next.ID == signer.ID {
			return true
		}
	}
	return false
}

// EvaluateRoutingRules walks the envelope's rules in declared order and
// returns the first satisfied rule's action. fieldValues overlays the
// fields' stored values with the acting signer's just-submitted ones.
// No match returns continue.
func EvaluateRoutingRules(env *contracts.Envelope, actingSigner *contracts.Signer, fieldValues map[string]string) contracts.Action {
	for _, rule := range env.RoutingRules {
		switch rule.Condition {
		case contracts.ConditionSignerDeclined:
			if actingSigner != nil && actingSigner.Status == contracts.SignerDeclined {
				return rule.Action
			}
		case contracts.ConditionFieldValue:
			if fieldValueMatches(env, rule, fieldValues) {
				return rule.Action
			}
		}
	}
	return contracts.Continue()
}

func fieldValueMatches(env *contracts.Envelope, rule contracts.RoutingRule, fieldValues map[string]string) bool {
	value, ok := fieldValues[rule.FieldID]
	if !ok {
		if field := env.FindField(rule.FieldID); field != nil {
			value = field.Value
		} else if rule.Operator != contracts.OpEmpty {
			// A field nobody ever defined has no value to compare,
			// but it is empty.
			return false
		}
	}

	switch rule.Operator {
	case contracts.OpEq:
		return value == rule.Value
	case contracts.OpNeq:
		return value != rule.Value
	case contracts.OpGt, contracts.OpLt:
		lhs, err1 := strconv.ParseFloat(strings.TrimSpace(value), 64)
		rhs, err2 := strconv.ParseFloat(strings.TrimSpace(rule.Value), 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if rule.Operator == contracts.OpGt {
			return lhs > rhs
		}
		return lhs < rhs
	case contracts.OpContains:
		return strings.Contains(value, rule.Value)
	case contracts.OpEmpty:
		return value == ""
	}
	return false
}

// CreateEnvelope registers a draft envelope. Signers and fields receive
// IDs if the caller left them blank.
func (e *Engine) CreateEnvelope(ctx context.Context, env *contracts.Envelope) (*contracts.Envelope, error) {
	if len(env.Signers) == 0 {
		return nil, &contracts.ValidationError{Field: "signers", Reason: "an envelope needs at least one signer"}
	}
	if env.SigningOrder != contracts.OrderSequential && env.SigningOrder != contracts.OrderParallel {
		return nil, &contracts.ValidationError{Field: "signing_order", Reason: fmt.Sprintf("unknown signing order %q", env.SigningOrder)}
	}

	cp := env.Clone()
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.Status = contracts.EnvelopeDraft
	cp.CreatedAt = nowUTC()
	for _, signer := range cp.Signers {
		if signer.ID == "" {
			signer.ID = uuid.New().String()
		}
		signer.EnvelopeID = cp.ID
		signer.Status = contracts.SignerPending
	}
	for _, field := range cp.Fields {
		if field.ID == "" {
			field.ID = uuid.New().String()
		}
	}

	if err := e.store.Create(ctx, cp); err != nil {
		return nil, err
	}
	e.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: cp.ID,
		EventType:  contracts.EventEnvelopeCreated,
		EventData:  map[string]any{"signers": len(cp.Signers), "signing_order": string(cp.SigningOrder)},
	})
	return cp, nil
}

// Send moves a draft envelope to sent, issues tokens to the currently
// eligible signers and announces them as ready to act.
func (e *Engine) Send(ctx context.Context, envelopeID string) (*contracts.Envelope, error) {
	var reissues []tokenReissue
	env, err := e.store.Update(ctx, envelopeID, func(env *contracts.Envelope) error {
		if env.Status != contracts.EnvelopeDraft {
			return &contracts.IllegalStateError{
				Op:     "send_envelope",
				Reason: fmt.Sprintf("Cannot send envelope with status: %s", env.Status),
			}
		}
		env.Status = contracts.EnvelopeSent
		now := nowUTC()
		env.SentAt = &now

		for _, signer := range NextSigners(env) {
			re, err := mintToken(signer, e.tokenTTL)
			if err != nil {
				return err
			}
			signer.Status = contracts.SignerSent
			reissues = append(reissues, re)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.syncTokenIndex(ctx, reissues)
	e.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: env.ID,
		EventType:  contracts.EventEnvelopeSent,
		EventData:  map[string]any{"notified_signers": len(reissues)},
	})
	for _, re := range reissues {
		e.notifier.Dispatch(ctx, notify.Fact{
			Type:       notify.SignerReady,
			EnvelopeID: env.ID,
			SignerID:   re.signerID,
			OccurredAt: nowUTC(),
		})
	}
	return env, nil
}

// MarkSignerViewed records that a signer opened their ceremony.
func (e *Engine) MarkSignerViewed(ctx context.Context, envelopeID, signerID, ipAddress, userAgent string) error {
	_, err := e.store.Update(ctx, envelopeID, func(env *contracts.Envelope) error {
		signer := env.FindSigner(signerID)
		if signer == nil {
			return &contracts.NotFoundError{Kind: "signer", ID: signerID}
		}
		if signer.Status.Terminal() {
			return &contracts.IllegalStateError{
				Op:     "mark_viewed",
				Reason: fmt.Sprintf("Signer has already %s", signer.Status),
			}
		}
		signer.Status = contracts.SignerViewed
		return nil
	})
	if err != nil {
		return err
	}
	e.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: envelopeID,
		SignerID:   signerID,
		EventType:  contracts.EventSignerViewed,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
	})
	return nil
}

// Completion is the outcome of a signer finishing their ceremony.
type Completion struct {
	IsComplete  bool
	NextSigners []*contracts.Signer
	Envelope    *contracts.Envelope
}

// OnSignerCompleted marks the signer completed, consumes their token,
// stores submitted field values and advances the envelope. IsComplete
// is true once no eligible signer remains.
func (e *Engine) OnSignerCompleted(ctx context.Context, envelopeID, signerID string, fieldValues map[string]string) (*Completion, error) {
	var consumedToken string
	var reissues []tokenReissue
	env, err := e.store.Update(ctx, envelopeID, func(env *contracts.Envelope) error {
		if env.Status != contracts.EnvelopeSent && env.Status != contracts.EnvelopePending {
			return &contracts.IllegalStateError{
				Op:     "complete_signer",
				Reason: fmt.Sprintf("Envelope is not open for signing: %s", env.Status),
			}
		}
		signer := env.FindSigner(signerID)
		if signer == nil {
			return &contracts.NotFoundError{Kind: "signer", ID: signerID}
		}
		if signer.Status.Terminal() {
			return &contracts.IllegalStateError{
				Op:     "complete_signer",
				Reason: fmt.Sprintf("Signer has already %s", signer.Status),
			}
		}
		if !CanSignerSign(env, signer) {
			return &contracts.IllegalStateError{
				Op:     "complete_signer",
				Reason: "Signer is not eligible to act yet",
			}
		}

		for fieldID, value := range fieldValues {
			if field := env.FindField(fieldID); field != nil {
				field.Value = value
			}
		}

		consumedToken = signer.SigningToken
		signer.Status = contracts.SignerCompleted
		signer.SigningToken = ""
		signer.TokenExpiresAt = nil

		if len(NextSigners(env)) == 0 {
			env.Status = contracts.EnvelopeCompleted
			now := nowUTC()
			env.CompletedAt = &now
		} else {
			env.Status = contracts.EnvelopePending
			// A completed order group activates the next one; its
			// signers get tokens in the same commit.
			for _, s := range NextSigners(env) {
				if s.SigningToken != "" || s.Status.Terminal() {
					continue
				}
				re, err := mintToken(s, e.tokenTTL)
				if err != nil {
					return err
				}
				s.Status = contracts.SignerSent
				reissues = append(reissues, re)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if consumedToken != "" {
		if err := e.index.Remove(ctx, consumedToken); err != nil {
			e.logger.Warn("token index remove failed", "signer_id", signerID, "error", err)
		}
	}
	e.syncTokenIndex(ctx, reissues)

	e.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: envelopeID,
		SignerID:   signerID,
		EventType:  contracts.EventSignerCompleted,
		EventData:  map[string]any{"fields_submitted": len(fieldValues)},
	})

	next := NextSigners(env)
	if env.Status == contracts.EnvelopeCompleted {
		e.ledger.LogEvent(ctx, ledger.Entry{
			EnvelopeID: envelopeID,
			EventType:  contracts.EventEnvelopeCompleted,
		})
		e.notifier.Dispatch(ctx, notify.Fact{
			Type:       notify.EnvelopeCompleted,
			EnvelopeID: envelopeID,
			OccurredAt: nowUTC(),
		})
	} else {
		for _, s := range next {
			e.notifier.Dispatch(ctx, notify.Fact{
				Type:       notify.SignerReady,
				EnvelopeID: envelopeID,
				SignerID:   s.ID,
				OccurredAt: nowUTC(),
			})
		}
	}

	return &Completion{
		IsComplete:  env.Status == contracts.EnvelopeCompleted,
		NextSigners: next,
		Envelope:    env,
	}, nil
}

// Decline is the outcome of a signer refusing to sign.
type Decline struct {
	Action      contracts.Action
	NextSigners []*contracts.Signer
	Envelope    *contracts.Envelope
}

// OnSignerDeclined marks the signer declined and evaluates routing
// rules. An add_signer action appends the replacement signer; route_to
// promotes the target order group. With no matching rule the envelope
// is voided: someone refused and nothing says how to proceed.
func (e *Engine) OnSignerDeclined(ctx context.Context, envelopeID, signerID, reason string) (*Decline, error) {
	var action contracts.Action
	var consumedToken string
	var reissues []tokenReissue
	env, err := e.store.Update(ctx, envelopeID, func(env *contracts.Envelope) error {
		if env.Status != contracts.EnvelopeSent && env.Status != contracts.EnvelopePending {
			return &contracts.IllegalStateError{
				Op:     "decline_signer",
				Reason: fmt.Sprintf("Envelope is not open for signing: %s", env.Status),
			}
		}
		signer := env.FindSigner(signerID)
		if signer == nil {
			return &contracts.NotFoundError{Kind: "signer", ID: signerID}
		}
		if signer.Status.Terminal() {
			return &contracts.IllegalStateError{
				Op:     "decline_signer",
				Reason: fmt.Sprintf("Signer has already %s", signer.Status),
			}
		}

		consumedToken = signer.SigningToken
		signer.Status = contracts.SignerDeclined
		signer.SigningToken = ""
		signer.TokenExpiresAt = nil

		action = EvaluateRoutingRules(env, signer, nil)
		switch action.Type {
		case contracts.ActionAddSigner:
			replacement := &contracts.Signer{
				ID:         uuid.New().String(),
				EnvelopeID: env.ID,
				Name:       action.Role,
				Email:      action.Email,
				Order:      signer.Order,
				Status:     contracts.SignerPending,
			}
			env.Signers = append(env.Signers, replacement)
			env.Status = contracts.EnvelopePending
		case contracts.ActionRouteTo:
			promoteOrderGroup(env, action.Order)
			env.Status = contracts.EnvelopePending
		default:
			env.Status = contracts.EnvelopeVoided
		}

		if env.Status != contracts.EnvelopeVoided {
			for _, s := range NextSigners(env) {
				if s.SigningToken != "" || s.Status.Terminal() {
					continue
				}
				re, err := mintToken(s, e.tokenTTL)
				if err != nil {
					return err
				}
				s.Status = contracts.SignerSent
				reissues = append(reissues, re)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if consumedToken != "" {
		if err := e.index.Remove(ctx, consumedToken); err != nil {
			e.logger.Warn("token index remove failed", "signer_id", signerID, "error", err)
		}
	}
	e.syncTokenIndex(ctx, reissues)

	e.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: envelopeID,
		SignerID:   signerID,
		EventType:  contracts.EventSignerDeclined,
		EventData:  map[string]any{"reason": reason, "routing_action": string(action.Type)},
	})
	if env.Status == contracts.EnvelopeVoided {
		e.ledger.LogEvent(ctx, ledger.Entry{
			EnvelopeID: envelopeID,
			EventType:  contracts.EventEnvelopeVoided,
			EventData:  map[string]any{"cause": "signer declined"},
		})
		e.notifier.Dispatch(ctx, notify.Fact{
			Type:       notify.EnvelopeVoided,
			EnvelopeID: envelopeID,
			OccurredAt: nowUTC(),
		})
	}

	return &Decline{Action: action, NextSigners: NextSigners(env), Envelope: env}, nil
}

// promoteOrderGroup makes the target order group immediately eligible
// by moving it to the front of the remaining sequence. Skipped signers
// keep their rank and become eligible after the promoted group; nobody
// is cancelled, so the evidence trail stays intact.
func promoteOrderGroup(env *contracts.Envelope, targetOrder int) {
	lowest := 0
	found := false
	for _, s := range env.Signers {
		if s.Status.Terminal() {
			continue
		}
		if !found || s.Order < lowest {
			lowest = s.Order
			found = true
		}
	}
	if !found || targetOrder <= lowest {
		return
	}
	for _, s := range env.Signers {
		if s.Order == targetOrder && !s.Status.Terminal() {
			s.Order = lowest
		}
	}
}

// DelaySigner puts a hold on a signer until the given time. Their token
// stays assigned but stops validating while the hold is active, and
// CanSignerSign rejects them until the hold expires.
func (e *Engine) DelaySigner(ctx context.Context, envelopeID, signerID string, until time.Time) error {
	_, err := e.store.Update(ctx, envelopeID, func(env *contracts.Envelope) error {
		if env.Status.Terminal() {
			return &contracts.IllegalStateError{
				Op:     "delay_signer",
				Reason: fmt.Sprintf("Envelope is already %s", env.Status),
			}
		}
		signer := env.FindSigner(signerID)
		if signer == nil {
			return &contracts.NotFoundError{Kind: "signer", ID: signerID}
		}
		if signer.Status.Terminal() {
			return &contracts.IllegalStateError{
				Op:     "delay_signer",
				Reason: fmt.Sprintf("Signer has already %s", signer.Status),
			}
		}
		signer.Status = contracts.SignerDelayed
		signer.DelayedUntil = &until
		return nil
	})
	if err != nil {
		return err
	}
	e.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: envelopeID,
		SignerID:   signerID,
		EventType:  contracts.EventSignerDelayed,
		EventData:  map[string]any{"delayed_until": until.UTC().Format(time.RFC3339)},
	})
	return nil
}

// ReleaseDelayedSigners lifts expired holds on an envelope, returning
// the released signers to sent so their ceremony can proceed. Intended
// for a periodic sweep alongside reminder dispatch.
func (e *Engine) ReleaseDelayedSigners(ctx context.Context, envelopeID string) ([]*contracts.Signer, error) {
	var releasedIDs []string
	env, err := e.store.Update(ctx, envelopeID, func(env *contracts.Envelope) error {
		if env.Status.Terminal() {
			return nil
		}
		now := nowUTC()
		for _, signer := range env.Signers {
			if signer.Status != contracts.SignerDelayed {
				continue
			}
			if signer.DelayedUntil != nil && signer.DelayedUntil.After(now) {
				continue
			}
			signer.Status = contracts.SignerSent
			signer.DelayedUntil = nil
			releasedIDs = append(releasedIDs, signer.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	released := make([]*contracts.Signer, 0, len(releasedIDs))
	for _, id := range releasedIDs {
		if s := env.FindSigner(id); s != nil {
			released = append(released, s)
		}
	}
	return released, nil
}

// VoidEnvelope terminates an envelope before completion. All live
// tokens die with it.
func (e *Engine) VoidEnvelope(ctx context.Context, envelopeID, reason string) (*contracts.Envelope, error) {
	return e.terminate(ctx, envelopeID, contracts.EnvelopeVoided, contracts.EventEnvelopeVoided, reason)
}

// ExpireEnvelope marks an envelope expired, typically from a retention
// sweep. All live tokens die with it.
func (e *Engine) ExpireEnvelope(ctx context.Context, envelopeID, reason string) (*contracts.Envelope, error) {
	return e.terminate(ctx, envelopeID, contracts.EnvelopeExpired, contracts.EventEnvelopeExpired, reason)
}

func (e *Engine) terminate(ctx context.Context, envelopeID string, status contracts.EnvelopeStatus, eventType contracts.EventType, reason string) (*contracts.Envelope, error) {
	var deadTokens []string
	env, err := e.store.Update(ctx, envelopeID, func(env *contracts.Envelope) error {
		if env.Status.Terminal() {
			return &contracts.IllegalStateError{
				Op:     "terminate_envelope",
				Reason: fmt.Sprintf("Envelope is already %s", env.Status),
			}
		}
		env.Status = status
		for _, signer := range env.Signers {
			if signer.SigningToken != "" {
				deadTokens = append(deadTokens, signer.SigningToken)
				signer.SigningToken = ""
				signer.TokenExpiresAt = nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, token := range deadTokens {
		if err := e.index.Remove(ctx, token); err != nil {
			e.logger.Warn("token index remove failed", "envelope_id", envelopeID, "error", err)
		}
	}
	e.ledger.LogEvent(ctx, ledger.Entry{
		EnvelopeID: envelopeID,
		EventType:  eventType,
		EventData:  map[string]any{"reason": reason},
	})
	if status == contracts.EnvelopeVoided {
		e.notifier.Dispatch(ctx, notify.Fact{
			Type:       notify.EnvelopeVoided,
			EnvelopeID: envelopeID,
			OccurredAt: nowUTC(),
		})
	}
	return env, nil
}

// tokenReissue pairs a minted token with its signer for post-commit
// index synchronization.
type tokenReissue struct {
	signerID string
	oldToken string
	newToken string
	ttl      time.Duration
}

func mintToken(signer *contracts.Signer, ttl time.Duration) (tokenReissue, error) {
	token, err := ceremony.GenerateSigningToken()
	if err != nil {
		return tokenReissue{}, err
	}
	re := tokenReissue{
		signerID: signer.ID,
		oldToken: signer.SigningToken,
		newToken: token,
		ttl:      ttl,
	}
	expiresAt := nowUTC().Add(ttl)
	signer.SigningToken = token
	signer.TokenExpiresAt = &expiresAt
	return re, nil
}

// syncTokenIndex reflects committed token changes into the lookup
// index. The index is an accelerator, so a failed sync is logged and
// tolerated: validation falls back to the store.
func (e *Engine) syncTokenIndex(ctx context.Context, reissues []tokenReissue) {
	for _, re := range reissues {
		if re.oldToken != "" {
			if err := e.index.Remove(ctx, re.oldToken); err != nil {
				e.logger.Warn("token index remove failed", "signer_id", re.signerID, "error", err)
			}
		}
		if err := e.index.Put(ctx, re.newToken, re.signerID, re.ttl); err != nil {
			e.logger.Warn("token index put failed", "signer_id", re.signerID, "error", err)
		}
	}
}

// nowUTC is a seam for tests.
var nowUTC = func() time.Time { return time.Now().UTC() }
