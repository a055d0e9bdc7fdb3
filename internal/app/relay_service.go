package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"relayer/internal/domain"
)

// anonymousKey identifies callers with neither a valid token nor an address.
const anonymousKey = "anon"

// ActionPayload is the action a client asks the relay to sponsor.
type ActionPayload struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// RelayRequest is one inbound relay call.
type RelayRequest struct {
	Token      string
	RemoteAddr string
	Payload    *ActionPayload
}

// Receipt acknowledges an accepted action.
type Receipt struct {
	Hash   string                `json:"hash"`
	Status domain.ActivityStatus `json:"status"`
	User   string                `json:"user"`
	Method string                `json:"method"`
	From   string                `json:"from"`
}

// TxStatus is the lifecycle view of one relayed action.
type TxStatus struct {
	Hash        string                `json:"hash"`
	Status      domain.ActivityStatus `json:"status"`
	BlockNumber int64                 `json:"blockNumber"`
	Timestamp   int64                 `json:"timestamp"`
}

// signingPayload is serialized with encoding/json, which emits struct fields
// in declaration order and map keys sorted, so the bytes are canonical. ID is
// unique per accepted action, so no two receipts share a signature.
type signingPayload struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
	TS     int64  `json:"ts"`
	User   string `json:"user"`
	From   string `json:"from"`
}

// RelayService runs the sponsored-action pipeline: identity, quota,
// signing and activity logging.
type RelayService struct {
	creds        *CredentialService
	quota        *QuotaService
	activity     domain.ActivityRepository
	deriveSecret string
	logger       *slog.Logger
	now          func() time.Time

	idMu   sync.Mutex
	lastID int64
}

// NewRelayService wires the pipeline's collaborators.
func NewRelayService(creds *CredentialService, quota *QuotaService, activity domain.ActivityRepository, deriveSecret string, logger *slog.Logger) *RelayService {
	return &RelayService{
		creds:        creds,
		quota:        quota,
		activity:     activity,
		deriveSecret: deriveSecret,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *RelayService) WithClock(now func() time.Time) *RelayService {
	s.now = now
	return s
}

// ResolveIdentity returns the user key for a request. Invalid or absent
// tokens demote the caller to its network address.
func (s *RelayService) ResolveIdentity(token, remoteAddr string) string {
	if token != "" {
		session, err := s.creds.Verify(token)
		if err == nil {
			return session.UserKey()
		}
		s.logger.Debug("relay: token rejected, treating caller as anonymous", "err", err)
	}
	return AnonymousKey(remoteAddr)
}

// Relay processes one action end to end. Quota consumed by an accepted
// action is final even when a later step fails.
func (s *RelayService) Relay(ctx context.Context, req RelayRequest) (Receipt, error) {
	userKey := s.ResolveIdentity(req.Token, req.RemoteAddr)

	if req.Payload == nil || strings.TrimSpace(req.Payload.Method) == "" {
		return Receipt{}, ErrInvalidPayload
	}
	method := req.Payload.Method

	if _, err := s.quota.CheckAndReserve(ctx, userKey); err != nil {
		return Receipt{}, err
	}

	now := s.now()
	identity := DeriveSigningIdentity(s.deriveSecret, userKey)
	id := s.nextID(now)

	message, err := json.Marshal(signingPayload{
		ID:     id,
		Method: method,
		Params: req.Payload.Params,
		TS:     now.UnixMilli(),
		User:   userKey,
		From:   identity.Address,
	})
	if err != nil {
		s.logger.Error("relay: encode signing payload", "method", method, "user", userKey, "ts", now.UnixMilli(), "err", err)
		return Receipt{}, fmt.Errorf("encode signing payload: %w", err)
	}
	hash := ReceiptHash(identity.Sign(message))

	rec := domain.ActivityRecord{
		ID:        id,
		Action:    method,
		Hash:      hash,
		Timestamp: now.UnixMilli(),
		Status:    domain.StatusPending,
	}
	if err := s.activity.AppendActivity(ctx, userKey, rec); err != nil {
		s.logger.Error("relay: append activity", "method", method, "user", userKey, "ts", now.UnixMilli(), "err", err)
		return Receipt{}, fmt.Errorf("%w: append activity: %w", ErrPersistence, err)
	}

	s.logger.Info("relay: action accepted", "user", userKey, "method", method, "hash", hash)
	return Receipt{
		Hash:   hash,
		Status: domain.StatusPending,
		User:   userKey,
		Method: method,
		From:   identity.Address,
	}, nil
}

// Activity returns userKey's log, newest first.
func (s *RelayService) Activity(ctx context.Context, userKey string) ([]domain.ActivityRecord, error) {
	items, err := s.activity.ListActivity(ctx, userKey)
	if err != nil {
		return nil, fmt.Errorf("%w: list activity: %w", ErrPersistence, err)
	}
	if items == nil {
		items = []domain.ActivityRecord{}
	}
	return items, nil
}

// TxStatus resolves a receipt hash from the activity log.
func (s *RelayService) TxStatus(ctx context.Context, hash string) (TxStatus, error) {
	_, rec, err := s.activity.FindActivityByHash(ctx, hash)
	if errors.Is(err, domain.ErrNotFound) {
		return TxStatus{}, err
	}
	if err != nil {
		return TxStatus{}, fmt.Errorf("%w: find activity: %w", ErrPersistence, err)
	}
	return TxStatus{
		Hash:        rec.Hash,
		Status:      rec.Status,
		BlockNumber: rec.BlockNumber,
		Timestamp:   rec.Timestamp,
	}, nil
}

// nextID is time based and strictly increasing within the process.
func (s *RelayService) nextID(now time.Time) int64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// AnonymousKey derives the fallback identity from a remote address.
func AnonymousKey(remoteAddr string) string {
	if remoteAddr == "" {
		return anonymousKey
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
