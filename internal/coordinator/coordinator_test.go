package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holderscope/internal/addr"
	"holderscope/internal/chaindata/stub"
	"holderscope/internal/domain"
	"holderscope/internal/graph"
	"holderscope/internal/sink"
	"holderscope/internal/storage"
	"holderscope/internal/storage/memory"
)

const (
	tokenA = "0x1111111111111111111111111111111111111111"
	tokenB = "0x2222222222222222222222222222222222222222"
	tokenC = "0x3333333333333333333333333333333333333333"
)

// captureSink records every sink event for assertions.
type captureSink struct {
	mu        sync.Mutex
	delivered map[string][]*domain.AnalysisReport
	queued    map[string][]int // channel -> positions
	started   []string         // token addresses in start order
	failures  map[string][]failureNotice
}

type failureNotice struct {
	reason   string
	refunded int64
}

func newCaptureSink() *captureSink {
	return &captureSink{
		delivered: make(map[string][]*domain.AnalysisReport),
		queued:    make(map[string][]int),
		failures:  make(map[string][]failureNotice),
	}
}

var _ sink.ResultSink = (*captureSink)(nil)

func (s *captureSink) Deliver(channel string, report *domain.AnalysisReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[channel] = append(s.delivered[channel], report)
}

func (s *captureSink) NotifyQueued(channel, _ string, _ domain.AnalysisKind, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[channel] = append(s.queued[channel], position)
}

func (s *captureSink) NotifyStarted(_, tokenAddress string, _ domain.AnalysisKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, tokenAddress)
}

func (s *captureSink) NotifyFailure(channel, reason string, refunded int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[channel] = append(s.failures[channel], failureNotice{reason: reason, refunded: refunded})
}

func (s *captureSink) reports(channel string) []*domain.AnalysisReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.AnalysisReport(nil), s.delivered[channel]...)
}

func (s *captureSink) startOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

func (s *captureSink) queuedPositions(channel string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.queued[channel]...)
}

func (s *captureSink) failureNotices(channel string) []failureNotice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]failureNotice(nil), s.failures[channel]...)
}

// gatedSink blocks the first delivery or failure notice until released,
// holding the worker mid fan-out so a test can land a Submit in that
// window.
type gatedSink struct {
	*captureSink
	entered   chan struct{}
	release   chan struct{}
	once      sync.Once
	onFailure bool // gate NotifyFailure instead of Deliver
}

func newGatedSink(inner *captureSink, onFailure bool) *gatedSink {
	return &gatedSink{
		captureSink: inner,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
		onFailure:   onFailure,
	}
}

func (s *gatedSink) hold() {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
}

func (s *gatedSink) Deliver(channel string, report *domain.AnalysisReport) {
	if !s.onFailure {
		s.hold()
	}
	s.captureSink.Deliver(channel, report)
}

func (s *gatedSink) NotifyFailure(channel, reason string, refunded int64) {
	if s.onFailure {
		s.hold()
	}
	s.captureSink.NotifyFailure(channel, reason, refunded)
}

func (s *gatedSink) awaitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the gated sink call")
	}
}

// noopLookup satisfies graph.ChainLookup without any chain data.
type noopLookup struct{}

func (noopLookup) FirstTxTimestamp(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}

func (noopLookup) RecentTransactions(context.Context, string) ([]graph.Transfer, error) {
	return nil, nil
}

type env struct {
	c        *Coordinator
	provider *stub.Provider
	ledger   *memory.CreditLedger
	logs     *memory.AnalysisLogStore
	snaps    *memory.HolderSnapshotStore
	capture  *captureSink
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *env {
	t.Helper()

	quiet := log.New(io.Discard, "", 0)
	e := &env{
		provider: stub.NewProvider(),
		ledger:   memory.NewCreditLedger(),
		logs:     memory.NewAnalysisLogStore(),
		snaps:    memory.NewHolderSnapshotStore(),
		capture:  newCaptureSink(),
	}

	opts := Options{
		Provider:  e.provider,
		Graph:     graph.NewAnalyzer(graph.Options{Lookup: noopLookup{}, Logger: quiet}),
		Ledger:    e.ledger,
		Sink:      e.capture,
		Logs:      e.logs,
		Snapshots: e.snaps,
		Logger:    quiet,
	}
	for _, m := range mutate {
		m(&opts)
	}

	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	e.c = c
	return e
}

func (e *env) waitDrained(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := e.c.GetQueueStatus()
		return !st.IsProcessing && st.QueueLength == 0
	}, 5*time.Second, 2*time.Millisecond, "coordinator did not drain")
}

func (e *env) grant(t *testing.T, requester string, credits int64) {
	t.Helper()
	require.NoError(t, e.ledger.CreateAccount(context.Background(), requester, credits))
}

func (e *env) balance(t *testing.T, requester string) int64 {
	t.Helper()
	bal, err := e.ledger.Balance(context.Background(), requester)
	require.NoError(t, err)
	return bal
}

func userRecord(address string, pct float64) *domain.HolderRecord {
	return &domain.HolderRecord{
		Address:        address,
		Balance:        decimal.NewFromInt(1000),
		BalancePercent: pct,
		AddressType:    domain.AddressTypeUser,
	}
}

func userRecords(n int) []*domain.HolderRecord {
	records := make([]*domain.HolderRecord, n)
	for i := range records {
		records[i] = userRecord(fmt.Sprintf("0xholder%04d", i), float64(i)/2)
	}
	return records
}

func TestSubmit_SingleFlightSharedResult(t *testing.T) {
	e := newTestEnv(t)
	e.provider.SetToken(tokenA, "AAA", decimal.NewFromInt(1_000_000), userRecords(3))
	e.provider.Delay = 20 * time.Millisecond
	e.grant(t, "u1", 10)
	e.grant(t, "u2", 10)

	ctx := context.Background()
	admitted, err := e.c.Submit(ctx, tokenA, "u1", "ch1", domain.KindQuick)
	require.NoError(t, err)
	require.True(t, admitted)

	// The in-flight record exists as soon as Submit returns, so this
	// attaches to u1's computation instead of starting a second one.
	admitted, err = e.c.Submit(ctx, tokenA, "u2", "ch2", domain.KindQuick)
	require.NoError(t, err)
	require.True(t, admitted)

	e.waitDrained(t)

	r1 := e.capture.reports("ch1")
	r2 := e.capture.reports("ch2")
	require.Len(t, r1, 1)
	require.Len(t, r2, 1)
	assert.Same(t, r1[0], r2[0], "attached requesters must receive the identical report")
	assert.Len(t, r1[0].HoldersAnalysis, 3)
	assert.Equal(t, "AAA", r1[0].ContractInfo.Symbol)

	assert.Equal(t, 1, e.provider.ContractInfoCalls(tokenA), "one computation for the whole wave")
	assert.Equal(t, int64(9), e.balance(t, "u1"), "quick analysis costs 1 credit")
	assert.Equal(t, int64(9), e.balance(t, "u2"), "attaching debits at the requester's own admission")

	assert.Empty(t, e.capture.queuedPositions("ch1"), "first admission to an idle queue is not queued")
	assert.NotEmpty(t, e.capture.queuedPositions("ch2"), "attached requester is told it is waiting")
}

func TestSubmit_ResubmitWhileWaitingDoesNotDebitAgain(t *testing.T) {
	e := newTestEnv(t)
	e.provider.SetToken(tokenA, "AAA", decimal.NewFromInt(1000), userRecords(2))
	e.provider.Delay = 20 * time.Millisecond
	e.grant(t, "u1", 10)

	ctx := context.Background()
	_, err := e.c.Submit(ctx, tokenA, "u1", "ch1", domain.KindQuick)
	require.NoError(t, err)
	admitted, err := e.c.Submit(ctx, tokenA, "u1", "ch1", domain.KindQuick)
	require.NoError(t, err)
	require.True(t, admitted)

	e.waitDrained(t)

	assert.Equal(t, int64(9), e.balance(t, "u1"), "same requester is debited once per wave")
	assert.Len(t, e.capture.reports("ch1"), 1)
}

func TestSubmit_AttachDuringFanOutStillDelivered(t *testing.T) {
	var gate *gatedSink
	e := newTestEnv(t, func(o *Options) {
		gate = newGatedSink(o.Sink.(*captureSink), false)
		o.Sink = gate
	})
	e.provider.SetToken(tokenA, "AAA", decimal.NewFromInt(1000), userRecords(2))
	e.grant(t, "u1", 10)
	e.grant(t, "u2", 10)

	ctx := context.Background()
	_, err := e.c.Submit(ctx, tokenA, "u1", "ch1", domain.KindQuick)
	require.NoError(t, err)

	// The worker is now inside the first fan-out write; the wave has been
	// resolved but the in-flight record is still installed.
	gate.awaitEntered(t)

	admitted, err := e.c.Submit(ctx, tokenA, "u2", "ch2", domain.KindQuick)
	require.NoError(t, err)
	require.True(t, admitted)

	close(gate.release)
	e.waitDrained(t)

	r1 := e.capture.reports("ch1")
	r2 := e.capture.reports("ch2")
	require.Len(t, r1, 1)
	require.Len(t, r2, 1, "requester attached mid fan-out still receives the report")
	assert.Same(t, r1[0], r2[0])
	assert.Equal(t, int64(9), e.balance(t, "u2"), "a delivered report keeps the debit")
	assert.Equal(t, 1, e.provider.ContractInfoCalls(tokenA), "late attach joins the wave, no second computation")
}

func TestFailTask_AttachDuringRefundStillRefunded(t *testing.T) {
	var gate *gatedSink
	e := newTestEnv(t, func(o *Options) {
		gate = newGatedSink(o.Sink.(*captureSink), true)
		o.Sink = gate
	})
	e.provider.FailWith[tokenA] = errors.New("provider exploded")
	e.grant(t, "u1", 10)
	e.grant(t, "u2", 10)

	ctx := context.Background()
	_, err := e.c.Submit(ctx, tokenA, "u1", "ch1", domain.KindQuick)
	require.NoError(t, err)

	// The worker is now inside u1's failure notice; the record is still
	// installed, so u2 attaches to a wave that has already failed.
	gate.awaitEntered(t)

	admitted, err := e.c.Submit(ctx, tokenA, "u2", "ch2", domain.KindQuick)
	require.NoError(t, err)
	require.True(t, admitted)

	close(gate.release)
	e.waitDrained(t)

	assert.Equal(t, int64(10), e.balance(t, "u1"))
	assert.Equal(t, int64(10), e.balance(t, "u2"), "late attach to a failing wave is refunded")
	require.Len(t, e.capture.failureNotices("ch1"), 1)
	require.Len(t, e.capture.failureNotices("ch2"), 1, "late attach to a failing wave is notified")
	assert.Empty(t, e.capture.reports("ch2"))
}

func TestSubmit_InsufficientCredits(t *testing.T) {
	e := newTestEnv(t)
	e.provider.SetToken(tokenA, "AAA", decimal.NewFromInt(1000), userRecords(2))
	e.grant(t, "poor", 4)

	admitted, err := e.c.Submit(context.Background(), tokenA, "poor", "ch1", domain.KindDeep)
	assert.False(t, admitted)
	require.ErrorIs(t, err, storage.ErrInsufficientCredits)

	assert.Equal(t, int64(4), e.balance(t, "poor"), "rejected admission leaves the balance untouched")
	st := e.c.GetQueueStatus()
	assert.Zero(t, st.QueueLength)
	assert.Zero(t, st.InFlightCount)
	assert.Empty(t, e.capture.startOrder())
}

func TestSubmit_InvalidInput(t *testing.T) {
	e := newTestEnv(t)
	e.grant(t, "u1", 10)
	ctx := context.Background()

	admitted, err := e.c.Submit(ctx, tokenA, "u1", "ch1", domain.AnalysisKind("forensic"))
	assert.False(t, admitted)
	assert.ErrorIs(t, err, ErrInvalidKind)

	admitted, err = e.c.Submit(ctx, "0xnot-an-address", "u1", "ch1", domain.KindQuick)
	assert.False(t, admitted)
	assert.ErrorIs(t, err, addr.ErrInvalidAddress)

	admitted, err = e.c.Submit(ctx, tokenA, "", "ch1", domain.KindQuick)
	assert.False(t, admitted)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	assert.Equal(t, int64(10), e.balance(t, "u1"))
}

func TestDrain_FIFOOrder(t *testing.T) {
	e := newTestEnv(t)
	for _, token := range []string{tokenA, tokenB, tokenC} {
		e.provider.SetToken(token, "TOK", decimal.NewFromInt(1000), userRecords(2))
	}
	e.provider.Delay = 10 * time.Millisecond
	e.grant(t, "u1", 10)

	ctx := context.Background()
	for _, token := range []string{tokenA, tokenB, tokenC} {
		_, err := e.c.Submit(ctx, token, "u1", "ch1", domain.KindQuick)
		require.NoError(t, err)
	}

	e.waitDrained(t)

	assert.Equal(t, []string{tokenA, tokenB, tokenC}, e.capture.startOrder())
	assert.Len(t, e.capture.reports("ch1"), 3)
	assert.Equal(t, int64(7), e.balance(t, "u1"))
}

func TestTask_FailureRefundsWholeWave(t *testing.T) {
	e := newTestEnv(t)
	e.provider.FailWith[tokenA] = errors.New("provider exploded")
	e.provider.Delay = 20 * time.Millisecond
	e.grant(t, "u1", 10)
	e.grant(t, "u2", 10)

	ctx := context.Background()
	_, err := e.c.Submit(ctx, tokenA, "u1", "ch1", domain.KindDeep)
	require.NoError(t, err)
	_, err = e.c.Submit(ctx, tokenA, "u2", "ch2", domain.KindDeep)
	require.NoError(t, err)

	e.waitDrained(t)

	assert.Equal(t, int64(10), e.balance(t, "u1"), "refund restores the debit")
	assert.Equal(t, int64(10), e.balance(t, "u2"))

	for _, ch := range []string{"ch1", "ch2"} {
		notices := e.capture.failureNotices(ch)
		require.Len(t, notices, 1)
		assert.Contains(t, notices[0].reason, "provider exploded")
		assert.Equal(t, int64(5), notices[0].refunded)
		assert.Empty(t, e.capture.reports(ch))
	}

	entries, err := e.logs.GetByRequester(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusFailed, entries[0].Status)
}

func TestTask_NotAToken(t *testing.T) {
	e := newTestEnv(t)
	e.grant(t, "u1", 10)

	// tokenA is never registered with the provider.
	_, err := e.c.Submit(context.Background(), tokenA, "u1", "ch1", domain.KindQuick)
	require.NoError(t, err)
	e.waitDrained(t)

	assert.Equal(t, int64(10), e.balance(t, "u1"))
	notices := e.capture.failureNotices("ch1")
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].reason, "not a valid token")
	assert.Equal(t, int64(1), notices[0].refunded)
}

func TestTask_ZeroHoldersDeliversEmptyReport(t *testing.T) {
	e := newTestEnv(t)
	e.provider.SetToken(tokenA, "GHOST", decimal.NewFromInt(1000), nil)
	e.grant(t, "u1", 10)

	_, err := e.c.Submit(context.Background(), tokenA, "u1", "ch1", domain.KindQuick)
	require.NoError(t, err)
	e.waitDrained(t)

	reports := e.capture.reports("ch1")
	require.Len(t, reports, 1, "an empty holder list is a result, not a failure")
	assert.Empty(t, reports[0].HoldersAnalysis)
	assert.NotNil(t, reports[0].HoldersAnalysis)
	assert.Empty(t, e.capture.failureNotices("ch1"))
	assert.Equal(t, int64(9), e.balance(t, "u1"))
}

func TestTask_DeepRunsConnectionAnalysisOnFullBatch(t *testing.T) {
	e := newTestEnv(t)
	e.provider.SetToken(tokenA, "FULL", decimal.NewFromInt(1000), userRecords(50))
	e.provider.SetToken(tokenB, "THIN", decimal.NewFromInt(1000), userRecords(12))
	e.grant(t, "u1", 20)

	ctx := context.Background()
	_, err := e.c.Submit(ctx, tokenA, "u1", "ch1", domain.KindDeep)
	require.NoError(t, err)
	_, err = e.c.Submit(ctx, tokenB, "u1", "ch1", domain.KindDeep)
	require.NoError(t, err)
	e.waitDrained(t)

	reports := e.capture.reports("ch1")
	require.Len(t, reports, 2)
	assert.NotNil(t, reports[0].ConnectionAnalysis, "full deep batch gets connection analysis")
	assert.Nil(t, reports[1].ConnectionAnalysis, "thin deep batch skips connection analysis")
}

func TestSubmit_DifferentKindsRunIndependently(t *testing.T) {
	e := newTestEnv(t)
	e.provider.SetToken(tokenA, "AAA", decimal.NewFromInt(1000), userRecords(3))
	e.provider.Delay = 10 * time.Millisecond
	e.grant(t, "u1", 10)
	e.grant(t, "u2", 10)

	ctx := context.Background()
	_, err := e.c.Submit(ctx, tokenA, "u1", "ch1", domain.KindQuick)
	require.NoError(t, err)
	_, err = e.c.Submit(ctx, tokenA, "u2", "ch2", domain.KindDeep)
	require.NoError(t, err)

	e.waitDrained(t)

	r1 := e.capture.reports("ch1")
	r2 := e.capture.reports("ch2")
	require.Len(t, r1, 1)
	require.Len(t, r2, 1)
	assert.Equal(t, domain.KindQuick, r1[0].Kind)
	assert.Equal(t, domain.KindDeep, r2[0].Kind)

	assert.Equal(t, 2, e.provider.ContractInfoCalls(tokenA), "different kinds are separate computations")
	assert.Equal(t, int64(9), e.balance(t, "u1"))
	assert.Equal(t, int64(5), e.balance(t, "u2"))
}

func TestGetQueueStatus_MidDrain(t *testing.T) {
	e := newTestEnv(t)
	e.provider.SetToken(tokenA, "AAA", decimal.NewFromInt(1000), userRecords(2))
	e.provider.SetToken(tokenB, "BBB", decimal.NewFromInt(1000), userRecords(2))
	e.provider.Delay = 30 * time.Millisecond
	e.grant(t, "u1", 10)

	ctx := context.Background()
	_, err := e.c.Submit(ctx, tokenA, "u1", "ch1", domain.KindQuick)
	require.NoError(t, err)
	_, err = e.c.Submit(ctx, tokenB, "u1", "ch1", domain.KindQuick)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := e.c.GetQueueStatus()
		return st.CurrentTask != nil && st.CurrentTask.TokenAddress == tokenA
	}, time.Second, time.Millisecond)

	st := e.c.GetQueueStatus()
	assert.True(t, st.IsProcessing)
	assert.Equal(t, 1, st.QueueLength)
	assert.Equal(t, 2, st.InFlightCount)
	assert.Equal(t, domain.KindQuick, st.CurrentTask.Kind)

	e.waitDrained(t)
	st = e.c.GetQueueStatus()
	assert.False(t, st.IsProcessing)
	assert.Zero(t, st.QueueLength)
	assert.Zero(t, st.InFlightCount)
}

func TestCachedResults(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.CacheSize = 2 })
	for _, token := range []string{tokenA, tokenB, tokenC} {
		e.provider.SetToken(token, "TOK", decimal.NewFromInt(1000), userRecords(2))
	}
	e.grant(t, "u1", 10)

	ctx := context.Background()
	for _, token := range []string{tokenA, tokenB, tokenC} {
		_, err := e.c.Submit(ctx, token, "u1", "ch1", domain.KindQuick)
		require.NoError(t, err)
		e.waitDrained(t)
	}

	last, ok := e.c.GetCachedResult("u1")
	require.True(t, ok)
	assert.Equal(t, tokenC, last.TokenAddress)

	_, ok = e.c.GetCachedReport(tokenA, domain.KindQuick)
	assert.False(t, ok, "oldest entry is evicted at the cache cap")
	_, ok = e.c.GetCachedReport(tokenB, domain.KindQuick)
	assert.True(t, ok)
	_, ok = e.c.GetCachedReport(tokenC, domain.KindQuick)
	assert.True(t, ok)

	_, ok = e.c.GetCachedResult("stranger")
	assert.False(t, ok)
}

func TestFailTask_NoDoubleRefund(t *testing.T) {
	e := newTestEnv(t)
	e.grant(t, "u1", 0)

	rec := &inFlight{
		channels:  map[string]string{"u1": "ch1"},
		debited:   map[string]struct{}{"u1": {}},
		delivered: make(map[string]struct{}),
	}
	tk := &task{key: taskKey{token: tokenA, kind: domain.KindQuick}, requester: "u1", channel: "ch1"}

	e.c.failTask(tk, rec, errors.New("boom"))
	e.c.failTask(tk, rec, errors.New("boom"))

	assert.Equal(t, int64(1), e.balance(t, "u1"), "entering the failure path twice refunds once")
	assert.Len(t, e.capture.failureNotices("ch1"), 1)
}

func TestFailTask_RefundFailureIsSurfaced(t *testing.T) {
	e := newTestEnv(t)

	// "ghost" has no ledger account, so the refund itself fails.
	rec := &inFlight{
		channels:  map[string]string{"ghost": "ch1"},
		debited:   map[string]struct{}{"ghost": {}},
		delivered: make(map[string]struct{}),
	}
	tk := &task{key: taskKey{token: tokenA, kind: domain.KindQuick}, requester: "ghost", channel: "ch1"}

	e.c.failTask(tk, rec, errors.New("boom"))

	notices := e.capture.failureNotices("ch1")
	require.Len(t, notices, 1)
	assert.Zero(t, notices[0].refunded)
	assert.Contains(t, notices[0].reason, "contact support")
}

func TestArchive_LogsAndSnapshots(t *testing.T) {
	e := newTestEnv(t)
	e.provider.SetToken(tokenA, "AAA", decimal.NewFromInt(1000), userRecords(2))
	e.grant(t, "u1", 10)

	_, err := e.c.Submit(context.Background(), tokenA, "u1", "ch1", domain.KindQuick)
	require.NoError(t, err)
	e.waitDrained(t)

	entries, err := e.logs.GetByRequester(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusDelivered, entries[0].Status)
	assert.Equal(t, tokenA, entries[0].TokenAddress)
	assert.Equal(t, domain.KindQuick, entries[0].Kind)

	rows, err := e.snaps.GetByToken(context.Background(), tokenA)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.KindQuick, rows[0].Kind)
	assert.Equal(t, "1000", rows[0].Balance)
}
