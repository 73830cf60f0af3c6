// Package txlistener polls a chain backend for a transaction's receipt,
// giving strategies a submit-and-wait primitive with a bounded timeout
// instead of an indefinite block on confirmation: build one with
// txlistener.NewTxListener(client, WithPollInterval(...), WithTimeout(...)).
package txlistener

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ErrTimeout is returned when a transaction's receipt never arrives within
// the configured timeout.
var ErrTimeout = errors.New("txlistener: timed out waiting for receipt")

// ReceiptBackend is the subset of a chain client TxListener needs.
type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// TxListener waits for a submitted transaction to be mined.
type TxListener interface {
	// WaitForReceipt polls until txHash has a receipt, ctx is cancelled, or
	// the configured timeout elapses (whichever comes first).
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

type listener struct {
	backend      ReceiptBackend
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a TxListener.
type Option func(*listener)

// WithPollInterval sets how often WaitForReceipt polls the backend. Default
// is 2 seconds.
func WithPollInterval(d time.Duration) Option {
	return func(l *listener) { l.pollInterval = d }
}

// WithTimeout bounds how long WaitForReceipt will wait before returning
// ErrTimeout. Default is 2 minutes.
func WithTimeout(d time.Duration) Option {
	return func(l *listener) { l.timeout = d }
}

// NewTxListener builds a TxListener against backend, applying any options.
func NewTxListener(backend ReceiptBackend, opts ...Option) TxListener {
	l := &listener{
		backend:      backend,
		pollInterval: 2 * time.Second,
		timeout:      2 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *listener) WaitForReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
