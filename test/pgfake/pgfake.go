// Package pgfake provides in-memory stand-ins for pgx transactions so service
// tests can exercise commit/rollback paths without a database.
package pgfake

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool hands out a fresh Tx on every Begin.
type Pool struct {
	mu       sync.Mutex
	BeginErr error
	Txs      []*Tx
}

func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	tx := &Tx{}
	p.Txs = append(p.Txs, tx)
	return tx, nil
}

// Last returns the most recent transaction, or nil.
func (p *Pool) Last() *Tx {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Txs) == 0 {
		return nil
	}
	return p.Txs[len(p.Txs)-1]
}

// Commits counts committed transactions.
func (p *Pool) Commits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, tx := range p.Txs {
		if tx.Committed {
			n++
		}
	}
	return n
}

// Tx records whether it was committed or rolled back.
type Tx struct {
	Committed  bool
	RolledBack bool
	CommitErr  error
}

func (f *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("pgfake: nested transactions not supported")
}

func (f *Tx) Commit(context.Context) error {
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.Committed = true
	return nil
}

func (f *Tx) Rollback(context.Context) error {
	if f.Committed {
		return pgx.ErrTxClosed
	}
	f.RolledBack = true
	return nil
}

func (f *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *Tx) Conn() *pgx.Conn {
	return nil
}

// Outbox records Enqueue calls made inside transactions.
type Outbox struct {
	mu       sync.Mutex
	Messages []Enqueued
	Err      error
}

// Enqueued is one captured outbox write.
type Enqueued struct {
	Topic   string
	Payload map[string]any
	Tx      pgx.Tx
}

func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.Messages = append(o.Messages, Enqueued{Topic: topic, Payload: payload, Tx: tx})
	return nil
}

// Topics lists captured topics in order.
func (o *Outbox) Topics() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.Messages))
	for _, m := range o.Messages {
		out = append(out, m.Topic)
	}
	return out
}

// Committed lists messages whose transaction committed.
func (o *Outbox) Committed() []Enqueued {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Enqueued, 0, len(o.Messages))
	for _, m := range o.Messages {
		if tx, ok := m.Tx.(*Tx); ok && !tx.Committed {
			continue
		}
		out = append(out, m)
	}
	return out
}
