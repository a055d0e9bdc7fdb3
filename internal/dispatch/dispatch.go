// Package dispatch delivers actions to the first reachable relay among an
// ordered list of candidate endpoints and reports their lifecycle to
// per-hash subscribers.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds each candidate attempt.
	DefaultTimeout = 3500 * time.Millisecond

	defaultPendingDelay   = 200 * time.Millisecond
	defaultConfirmedDelay = 1200 * time.Millisecond
)

var (
	// ErrRelayUnreachable indicates that every candidate failed.
	ErrRelayUnreachable = errors.New("relay unreachable")
	// ErrTxNotFound indicates that a relay does not know the hash.
	ErrTxNotFound = errors.New("transaction not found")
)

// UnreachableError lists the candidates tried, in order, and why each failed.
type UnreachableError struct {
	Tried  []string
	Causes []error
}

func (e *UnreachableError) Error() string {
	return "relay unreachable, tried: " + strings.Join(e.Tried, ", ")
}

// Is makes errors.Is(err, ErrRelayUnreachable) hold.
func (e *UnreachableError) Is(target error) bool {
	return target == ErrRelayUnreachable
}

// StatusError is a non-2xx answer from a relay.
type StatusError struct {
	Base string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Base, e.Code, e.Body)
}

// Payload is the action to relay.
type Payload struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Receipt is the relay's acknowledgement.
type Receipt struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
	User   string `json:"user"`
	Method string `json:"method"`
	From   string `json:"from"`

	// Relay is the candidate that accepted the action.
	Relay string `json:"-"`
}

// TxStatus mirrors the relay's /tx/{hash} answer.
type TxStatus struct {
	Hash        string `json:"hash"`
	Status      string `json:"status"`
	BlockNumber int64  `json:"blockNumber"`
	Timestamp   int64  `json:"timestamp"`
}

type listener struct {
	fn func(status string)
}

// Dispatcher sends actions to relay candidates. It is safe for concurrent use.
type Dispatcher struct {
	candidates     []string
	client         *http.Client
	timeout        time.Duration
	pendingDelay   time.Duration
	confirmedDelay time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	listeners map[string]*listener
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets the client used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithTimeout sets the per-candidate timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithNotifyDelays sets when the synthetic pending and confirmed
// notifications fire after a successful send.
func WithNotifyDelays(pending, confirmed time.Duration) Option {
	return func(d *Dispatcher) {
		d.pendingDelay = pending
		d.confirmedDelay = confirmed
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New creates a Dispatcher over candidates. Blank entries are dropped,
// trailing slashes trimmed and duplicates removed, keeping first occurrence.
func New(candidates []string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		candidates:     normalize(candidates),
		client:         http.DefaultClient,
		timeout:        DefaultTimeout,
		pendingDelay:   defaultPendingDelay,
		confirmedDelay: defaultConfirmedDelay,
		logger:         slog.Default(),
		listeners:      make(map[string]*listener),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Candidates returns the normalized candidate list.
func (d *Dispatcher) Candidates() []string {
	return append([]string(nil), d.candidates...)
}

// Send posts the action to each candidate in turn until one accepts it.
// Network failures, timeouts and non-2xx answers advance to the next
// candidate. When all fail the error is an *UnreachableError.
func (d *Dispatcher) Send(ctx context.Context, token string, payload Payload) (Receipt, error) {
	receipt, _, err := d.send(ctx, token, payload, nil)
	return receipt, err
}

// SendWatch is Send with cb subscribed to the receipt's hash before any
// notification is scheduled, so cb sees both pending and confirmed. The
// returned function unsubscribes cb; it is a no-op when err is non-nil.
func (d *Dispatcher) SendWatch(ctx context.Context, token string, payload Payload, cb func(status string)) (Receipt, func(), error) {
	return d.send(ctx, token, payload, cb)
}

func (d *Dispatcher) send(ctx context.Context, token string, payload Payload, cb func(status string)) (Receipt, func(), error) {
	noop := func() {}
	body, err := json.Marshal(struct {
		Token   string  `json:"token,omitempty"`
		Payload Payload `json:"payload"`
	}{Token: token, Payload: payload})
	if err != nil {
		return Receipt{}, noop, fmt.Errorf("encode relay request: %w", err)
	}

	unreachable := &UnreachableError{}
	for _, base := range d.candidates {
		if err := ctx.Err(); err != nil {
			return Receipt{}, noop, err
		}
		unreachable.Tried = append(unreachable.Tried, base)

		receipt, err := d.post(ctx, base, body)
		if err != nil {
			d.logger.Debug("dispatch: candidate failed", "relay", base, "err", err)
			unreachable.Causes = append(unreachable.Causes, err)
			continue
		}
		receipt.Relay = base
		unsubscribe := noop
		if cb != nil {
			unsubscribe = d.OnTx(receipt.Hash, cb)
		}
		d.scheduleNotifications(receipt.Hash)
		return receipt, unsubscribe, nil
	}
	return Receipt{}, noop, unreachable
}

func (d *Dispatcher) post(ctx context.Context, base string, body []byte) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/relay", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Receipt{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Receipt{}, &StatusError{Base: base, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return Receipt{}, fmt.Errorf("%s: decode receipt: %w", base, err)
	}
	if receipt.Hash == "" {
		return Receipt{}, fmt.Errorf("%s: receipt without hash", base)
	}
	return receipt, nil
}

// Status asks the candidates, in order, for the relay-side status of hash.
// A 404 from any candidate is final and reported as ErrTxNotFound.
func (d *Dispatcher) Status(ctx context.Context, hash string) (TxStatus, error) {
	unreachable := &UnreachableError{}
	for _, base := range d.candidates {
		if err := ctx.Err(); err != nil {
			return TxStatus{}, err
		}
		unreachable.Tried = append(unreachable.Tried, base)

		st, err := d.get(ctx, base, hash)
		if errors.Is(err, ErrTxNotFound) {
			return TxStatus{}, err
		}
		if err != nil {
			unreachable.Causes = append(unreachable.Causes, err)
			continue
		}
		return st, nil
	}
	return TxStatus{}, unreachable
}

func (d *Dispatcher) get(ctx context.Context, base, hash string) (TxStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/tx/"+url.PathEscape(hash), nil)
	if err != nil {
		return TxStatus{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return TxStatus{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return TxStatus{}, fmt.Errorf("%w: %s", ErrTxNotFound, hash)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return TxStatus{}, &StatusError{Base: base, Code: resp.StatusCode}
	}

	var st TxStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return TxStatus{}, fmt.Errorf("%s: decode status: %w", base, err)
	}
	return st, nil
}

// OnTx registers cb for status notifications about hash, replacing any
// earlier callback for it. The returned function unregisters cb.
//
// Notifications are scheduled when Send returns, so a callback registered
// after the pending delay has elapsed misses the pending notification.
// Register before sending, or use SendWatch.
func (d *Dispatcher) OnTx(hash string, cb func(status string)) func() {
	l := &listener{fn: cb}

	d.mu.Lock()
	d.listeners[hash] = l
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.listeners[hash] == l {
			delete(d.listeners, hash)
		}
	}
}

func (d *Dispatcher) scheduleNotifications(hash string) {
	time.AfterFunc(d.pendingDelay, func() { d.notify(hash, "pending") })
	time.AfterFunc(d.confirmedDelay, func() { d.notify(hash, "confirmed") })
}

func (d *Dispatcher) notify(hash, status string) {
	d.mu.Lock()
	l := d.listeners[hash]
	d.mu.Unlock()

	if l != nil {
		l.fn(status)
	}
}

func normalize(candidates []string) []string {
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimRight(strings.TrimSpace(c), "/")
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
