// Package master implements the token authority: an atomic, versioned,
// hierarchical key-value store with prefix queries, optimistic-concurrency
// updates, ownership leases, and atomic archival.
//
// All mutation funnels through a single goroutine; requests are serialized
// into a FIFO queue and handled to completion, including the durable store
// commit, before the next one begins. Correctness is therefore sequential
// reasoning only.
package master

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	iradix "github.com/hashicorp/go-immutable-radix"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	metrics "go.opentelemetry.io/otel/metric"

	"github.com/pinterest/pinball/internal/log"
	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/storage"
)

// ErrNotReady is returned while the master is rebuilding its index from the
// store. Clients should retry.
var ErrNotReady = errors.New("master is not ready")

// ErrStopped is returned once a graceful shutdown has begun.
var ErrStopped = errors.New("master is shutting down")

const (
	stateRecovering int32 = iota
	stateServing
	stateStopped
)

type call struct {
	execute func(ctx context.Context) (any, error)
	ctx     context.Context
	resp    chan result
}

type result struct {
	value any
	err   error
}

// Master holds the live token namespace in an immutable radix tree keyed by
// name. The tree gives exact lookup and lexicographically ordered prefix
// iteration, and read snapshots are free.
type Master struct {
	store storage.Store
	node  *snowflake.Node
	now   func() time.Time

	index *iradix.Tree

	state    atomic.Int32
	requests chan call
	stopCh   chan struct{}
	doneCh   chan struct{}

	requestTotal  metrics.Int64Counter
	requestErrors metrics.Int64Counter
	requestTime   metrics.Float64Histogram
}

type Option func(*Master)

// WithClock overrides the wall clock used for the ownership predicate.
func WithClock(now func() time.Time) Option {
	return func(m *Master) { m.now = now }
}

// NewMaster builds a master over the given store. nodeID seeds the snowflake
// version source; versions are unique and strictly increasing across
// restarts because they embed the wall clock.
func NewMaster(store storage.Store, nodeID int64, opts ...Option) (*Master, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	m := &Master{
		store:    store,
		node:     node,
		now:      time.Now,
		index:    iradix.New(),
		requests: make(chan call, 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.Store(stateRecovering)

	meter := otel.GetMeterProvider().Meter("pinball.master")
	if m.requestTotal, err = meter.Int64Counter("pinball_master_requests_total"); err != nil {
		return nil, err
	}
	if m.requestErrors, err = meter.Int64Counter("pinball_master_request_errors_total"); err != nil {
		return nil, err
	}
	if m.requestTime, err = meter.Float64Histogram("pinball_master_request_duration_seconds"); err != nil {
		return nil, err
	}
	return m, nil
}

var _ api.Master = &Master{}

// Start loads the full live namespace from the store and begins serving.
func (m *Master) Start(ctx context.Context) error {
	tokens, err := m.store.ReadActiveTokens(ctx, "")
	if err != nil {
		// A failure here may mean a partially read namespace. It is not safe
		// to serve from it.
		return err
	}
	txn := m.index.Txn()
	var maxVersion int64
	for _, t := range tokens {
		txn.Insert([]byte(t.Name), t)
		if t.Version > maxVersion {
			maxVersion = t.Version
		}
	}
	m.index = txn.Commit()
	// A fresh snowflake node restarts its sequence at zero, so a restart
	// within the same millisecond could reissue a stored version. Advance
	// the node past every loaded version before serving.
	for len(tokens) > 0 && m.node.Generate().Int64() <= maxVersion {
	}
	m.state.Store(stateServing)
	go m.run()
	log.Info("token master serving %d tokens", len(tokens))
	return nil
}

// Stop refuses new requests, lets the in-flight batch finish, and returns.
func (m *Master) Stop() {
	if !m.state.CompareAndSwap(stateServing, stateStopped) {
		return
	}
	close(m.stopCh)
	<-m.doneCh
}

func (m *Master) run() {
	for {
		select {
		case c := <-m.requests:
			serve(c)
		case <-m.stopCh:
			// Serve whatever was queued before shutdown began.
			for {
				select {
				case c := <-m.requests:
					serve(c)
				default:
					close(m.doneCh)
					return
				}
			}
		}
	}
}

func serve(c call) {
	v, err := c.execute(c.ctx)
	c.resp <- result{value: v, err: err}
}

// do serializes one operation through the request queue. Once accepted, the
// operation runs to completion even if the caller goes away.
func (m *Master) do(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	switch m.state.Load() {
	case stateRecovering:
		return nil, ErrNotReady
	case stateStopped:
		return nil, ErrStopped
	}
	start := time.Now()
	c := call{execute: fn, ctx: ctx, resp: make(chan result, 1)}
	select {
	case m.requests <- c:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.stopCh:
		return nil, ErrStopped
	}
	res := <-c.resp
	m.observe(ctx, op, time.Since(start), res.err)
	return res.value, res.err
}

func (m *Master) observe(ctx context.Context, op string, d time.Duration, err error) {
	attrs := metrics.WithAttributes(attribute.String("operation", op))
	m.requestTotal.Add(ctx, 1, attrs)
	m.requestTime.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		var merr *api.MasterError
		code := "internal"
		if errors.As(err, &merr) {
			code = merr.Code.String()
		}
		m.requestErrors.Add(ctx, 1, metrics.WithAttributes(
			attribute.String("operation", op),
			attribute.String("code", code),
		))
	}
}

func (m *Master) Group(ctx context.Context, req *api.GroupRequest) (*api.GroupResponse, error) {
	res, err := m.do(ctx, "group", func(ctx context.Context) (any, error) {
		return m.group(req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*api.GroupResponse), nil
}

func (m *Master) Query(ctx context.Context, req *api.QueryRequest) (*api.QueryResponse, error) {
	res, err := m.do(ctx, "query", func(ctx context.Context) (any, error) {
		return m.query(req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*api.QueryResponse), nil
}

func (m *Master) Modify(ctx context.Context, req *api.ModifyRequest) (*api.ModifyResponse, error) {
	res, err := m.do(ctx, "modify", func(ctx context.Context) (any, error) {
		return m.modify(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*api.ModifyResponse), nil
}

func (m *Master) QueryAndOwn(ctx context.Context, req *api.QueryAndOwnRequest) (*api.QueryAndOwnResponse, error) {
	res, err := m.do(ctx, "query_and_own", func(ctx context.Context) (any, error) {
		return m.queryAndOwn(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*api.QueryAndOwnResponse), nil
}

func (m *Master) Archive(ctx context.Context, req *api.ArchiveRequest) (*api.ArchiveResponse, error) {
	res, err := m.do(ctx, "archive", func(ctx context.Context) (any, error) {
		return m.archive(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*api.ArchiveResponse), nil
}

// Status reports the lifecycle state for /system/status.
func (m *Master) Status() string {
	switch m.state.Load() {
	case stateRecovering:
		return "RECOVERING"
	case stateServing:
		return "SERVING"
	default:
		return "STOPPED"
	}
}

// nextVersion returns a fresh, globally unique version.
func (m *Master) nextVersion() int64 {
	return m.node.Generate().Int64()
}

func (m *Master) getToken(name string) (*api.Token, bool) {
	v, ok := m.index.Get([]byte(name))
	if !ok {
		return nil, false
	}
	return v.(*api.Token), true
}
