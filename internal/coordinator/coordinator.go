// Package coordinator schedules token analysis tasks. It deduplicates
// concurrent requests for the same (token, kind), meters a prepaid credit
// balance (debit on admission, refund on failure), drains admitted tasks
// through a single sequential worker and fans each computed report out to
// every requester attached to it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"holderscope/internal/addr"
	"holderscope/internal/chaindata"
	"holderscope/internal/domain"
	"holderscope/internal/graph"
	"holderscope/internal/observability"
	"holderscope/internal/sink"
	"holderscope/internal/storage"
)

// ErrInvalidKind is returned by Submit for unknown analysis kinds.
var ErrInvalidKind = errors.New("unknown analysis kind")

const (
	defaultTaskTimeout = 2 * time.Minute
	defaultCacheSize   = 64

	// Connection analysis only runs when a deep task actually collected a
	// full holder batch; smaller batches make the pairwise heuristics
	// meaningless.
	connectionAnalysisMinHolders = 50

	refundTimeout = 15 * time.Second
)

type taskKey struct {
	token string // EIP-55 checksummed
	kind  domain.AnalysisKind
}

// task is one admitted unit of work, owned by the coordinator until it is
// delivered or failed.
type task struct {
	key        taskKey
	requester  string // triggering requester, receives the start notice
	channel    string
	admittedAt time.Time
}

// inFlight tracks one running or pending computation and the requesters
// waiting on it.
type inFlight struct {
	channels  map[string]string   // requester -> delivery channel
	debited   map[string]struct{} // requesters to refund on failure
	delivered map[string]struct{} // requesters already sent the report
}

// TaskInfo describes the task a worker is currently processing.
type TaskInfo struct {
	TokenAddress string
	Kind         domain.AnalysisKind
	RequesterID  string
	AdmittedAt   time.Time
}

// QueueStatus is a read-only snapshot of the coordinator state.
type QueueStatus struct {
	QueueLength       int
	IsProcessing      bool
	CurrentTask       *TaskInfo
	InFlightCount     int
	CachedResultCount int
}

// Options configures a Coordinator.
type Options struct {
	Provider chaindata.Provider
	Graph    *graph.Analyzer
	Ledger   storage.CreditLedger
	Sink     sink.ResultSink

	// Logs and Snapshots archive task outcomes and holder rows.
	// Optional; writes are best-effort and never fail a task.
	Logs      storage.AnalysisLogStore
	Snapshots storage.HolderSnapshotStore

	// TaskTimeout bounds the provider and analyzer work of one task.
	// Defaults to 2 minutes.
	TaskTimeout time.Duration

	// CacheSize caps the report cache, evicting oldest first. Defaults
	// to 64.
	CacheSize int

	// MaxConcurrent caps parallel queue drains. The current drain loop is
	// strictly sequential, matching the serialized load the provider rate
	// limits assume; the knob is reserved for a bounded-concurrency mode.
	MaxConcurrent int

	Logger  *log.Logger // defaults to "[coordinator] " on stdout
	Verbose bool
	Now     func() time.Time // override in tests
}

// Coordinator owns the pending-task queue, the in-flight records and the
// report cache. Safe for concurrent use.
type Coordinator struct {
	provider  chaindata.Provider
	graph     *graph.Analyzer
	ledger    storage.CreditLedger
	sink      sink.ResultSink
	logs      storage.AnalysisLogStore
	snapshots storage.HolderSnapshotStore

	timeout       time.Duration
	cacheCap      int
	maxConcurrent int
	logger        *log.Logger
	verbose       bool
	now           func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu          sync.Mutex
	queue       []*task
	processing  bool
	current     *task
	inFlight    map[taskKey]*inFlight
	cache       map[taskKey]*domain.AnalysisReport
	cacheOrder  []taskKey
	lastResults map[string]*domain.AnalysisReport // requester -> last delivered
}

// New creates a Coordinator. Provider, Graph, Ledger and Sink are required.
func New(opts Options) (*Coordinator, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if opts.Graph == nil {
		return nil, fmt.Errorf("graph analyzer is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("credit ledger is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("result sink is required")
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[coordinator] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		provider:      opts.Provider,
		graph:         opts.Graph,
		ledger:        opts.Ledger,
		sink:          opts.Sink,
		logs:          opts.Logs,
		snapshots:     opts.Snapshots,
		timeout:       opts.TaskTimeout,
		cacheCap:      opts.CacheSize,
		maxConcurrent: opts.MaxConcurrent,
		logger:        opts.Logger,
		verbose:       opts.Verbose,
		now:           opts.Now,
		baseCtx:       ctx,
		cancel:        cancel,
		inFlight:      make(map[taskKey]*inFlight),
		cache:         make(map[taskKey]*domain.AnalysisReport),
		lastResults:   make(map[string]*domain.AnalysisReport),
	}, nil
}

func (c *Coordinator) log(format string, args ...interface{}) {
	if c.verbose {
		c.logger.Printf(format, args...)
	}
}

// Close stops accepting the worker restart and waits for the running drain
// to finish. Pending tasks fail with context.Canceled and are refunded.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// Submit admits an analysis request. When a computation for the same
// (token, kind) is already in flight, the requester is attached to it
// instead of starting a new task; either way the requester's balance is
// debited the kind's cost exactly once per admission wave.
//
// Returns false with storage.ErrInsufficientCredits (wrapped) when the
// balance cannot cover the cost; the ledger is left untouched.
func (c *Coordinator) Submit(ctx context.Context, tokenAddress, requesterID, channel string, kind domain.AnalysisKind) (bool, error) {
	if !kind.Valid() {
		observability.RecordRejection("invalid_kind")
		return false, ErrInvalidKind
	}
	if requesterID == "" || channel == "" {
		observability.RecordRejection("invalid_input")
		return false, storage.ErrInvalidInput
	}
	token, err := addr.Checksum(tokenAddress)
	if err != nil {
		observability.RecordRejection("invalid_address")
		return false, err
	}
	key := taskKey{token: token, kind: kind}
	cost := kind.CreditCost()

	c.mu.Lock()

	rec, attached := c.inFlight[key]
	if attached {
		if _, sent := rec.delivered[requesterID]; sent {
			c.mu.Unlock()
			return true, nil
		}
		if _, waiting := rec.channels[requesterID]; waiting {
			// Already admitted to this wave; refresh the channel only.
			rec.channels[requesterID] = channel
			c.mu.Unlock()
			return true, nil
		}
	}

	// The debit runs under the coordinator lock so that admission state
	// and ledger state move together. Admissions serialize on the ledger
	// call, but never wait on a running analysis.
	if err := c.ledger.Debit(ctx, requesterID, cost); err != nil {
		c.mu.Unlock()
		observability.RecordRejection("credits")
		return false, fmt.Errorf("debit %d credits for %s: %w", cost, requesterID, err)
	}
	observability.RecordAdmission(string(kind), cost)

	var position int
	var queued bool
	if attached {
		rec.channels[requesterID] = channel
		rec.debited[requesterID] = struct{}{}
		position = c.pendingLocked()
		queued = true
		c.log("attached %s to in-flight %s %s", requesterID, kind, token)
	} else {
		c.inFlight[key] = &inFlight{
			channels:  map[string]string{requesterID: channel},
			debited:   map[string]struct{}{requesterID: {}},
			delivered: make(map[string]struct{}),
		}
		c.queue = append(c.queue, &task{
			key:        key,
			requester:  requesterID,
			channel:    channel,
			admittedAt: c.now(),
		})
		position = c.pendingLocked() - 1
		queued = position > 0
		if !c.processing {
			c.processing = true
			c.wg.Add(1)
			go c.drain()
		}
		c.log("admitted %s %s for %s, %d pending", kind, token, requesterID, len(c.queue))
	}
	c.updateGaugesLocked()
	c.mu.Unlock()

	if queued {
		c.sink.NotifyQueued(channel, token, kind, position)
	}
	return true, nil
}

// pendingLocked counts tasks ahead of a new admission: the queue plus any
// task the worker currently holds.
func (c *Coordinator) pendingLocked() int {
	n := len(c.queue)
	if c.current != nil {
		n++
	}
	return n
}

func (c *Coordinator) updateGaugesLocked() {
	observability.UpdateCoordinatorGauges(len(c.queue), len(c.inFlight), len(c.cache))
}

// GetQueueStatus returns a snapshot of the coordinator state. Safe to call
// at any time, including mid-drain.
func (c *Coordinator) GetQueueStatus() QueueStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := QueueStatus{
		QueueLength:       len(c.queue),
		IsProcessing:      c.processing,
		InFlightCount:     len(c.inFlight),
		CachedResultCount: len(c.cache),
	}
	if c.current != nil {
		st.CurrentTask = &TaskInfo{
			TokenAddress: c.current.key.token,
			Kind:         c.current.key.kind,
			RequesterID:  c.current.requester,
			AdmittedAt:   c.current.admittedAt,
		}
	}
	return st
}

// GetCachedResult returns the last report delivered to a requester.
func (c *Coordinator) GetCachedResult(requesterID string) (*domain.AnalysisReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.lastResults[requesterID]
	return r, ok
}

// GetCachedReport returns the cached report for a (token, kind), if any.
func (c *Coordinator) GetCachedReport(tokenAddress string, kind domain.AnalysisKind) (*domain.AnalysisReport, bool) {
	token, err := addr.Checksum(tokenAddress)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.cache[taskKey{token: token, kind: kind}]
	return r, ok
}

// drain pops tasks in FIFO order until the queue is empty, then exits.
// Submit restarts it on the next admission.
func (c *Coordinator) drain() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.processing = false
			c.current = nil
			c.updateGaugesLocked()
			c.mu.Unlock()
			return
		}
		t := c.queue[0]
		c.queue = c.queue[1:]
		c.current = t
		rec := c.inFlight[t.key]
		c.updateGaugesLocked()
		c.mu.Unlock()

		if rec == nil {
			// Admission always installs the record before enqueueing, so
			// a missing record means the task was orphaned. Skip it.
			c.logger.Printf("no in-flight record for %s %s, skipping", t.key.kind, t.key.token)
			continue
		}

		// runTask tears down the in-flight record itself, in the same
		// critical section that resolves the last waiter; deleting it
		// here would strand a requester that attached mid fan-out.
		c.runTask(t, rec)

		c.mu.Lock()
		c.current = nil
		c.updateGaugesLocked()
		c.mu.Unlock()
	}
}

func (c *Coordinator) runTask(t *task, rec *inFlight) {
	start := c.now()
	c.sink.NotifyStarted(t.channel, t.key.token, t.key.kind)
	c.log("starting %s analysis of %s, top %d holders",
		t.key.kind, t.key.token, t.key.kind.HolderLimit())

	ctx, cancel := context.WithTimeout(c.baseCtx, c.timeout)
	report, err := c.analyze(ctx, t)
	cancel()

	elapsed := c.now().Sub(start).Seconds()
	if err != nil {
		c.logger.Printf("%s analysis of %s failed after %.1fs: %v",
			t.key.kind, t.key.token, elapsed, err)
		observability.RecordTaskOutcome(string(t.key.kind), "failed", elapsed)
		c.failTask(t, rec, err)
		return
	}
	observability.RecordTaskOutcome(string(t.key.kind), "delivered", elapsed)

	c.mu.Lock()
	c.storeCacheLocked(t.key, report)
	c.mu.Unlock()

	// Fan out in rounds: a requester may attach (and be debited) while a
	// previous round's writes are in progress, so the record is removed
	// only in the critical section that found no waiter left.
	var delivered []waiter
	for {
		c.mu.Lock()
		round := make([]waiter, 0, len(rec.channels))
		for requester, channel := range rec.channels {
			if _, sent := rec.delivered[requester]; sent {
				continue
			}
			rec.delivered[requester] = struct{}{}
			c.lastResults[requester] = report
			round = append(round, waiter{requester: requester, channel: channel})
		}
		if len(round) == 0 {
			delete(c.inFlight, t.key)
			c.updateGaugesLocked()
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		sort.Slice(round, func(i, j int) bool { return round[i].requester < round[j].requester })
		for _, w := range round {
			c.sink.Deliver(w.channel, report)
			observability.RecordDelivery()
		}
		delivered = append(delivered, round...)
	}

	c.log("delivered %s report for %s to %d requesters in %.1fs",
		t.key.kind, t.key.token, len(delivered), elapsed)

	c.archive(t, report, delivered)
}

type waiter struct {
	requester string
	channel   string
}

// analyze fetches everything the report needs from the provider and, for
// full deep batches, runs the connection analysis.
func (c *Coordinator) analyze(ctx context.Context, t *task) (*domain.AnalysisReport, error) {
	token := t.key.token

	info, err := c.timedContractInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	supply, err := c.provider.GetTotalSupply(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("total supply: %w", err)
	}

	deployer, err := c.provider.GetContractDeployer(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("contract deployer: %w", err)
	}
	var deployerAnalysis *domain.HolderRecord
	if deployer != "" {
		deployerAnalysis, err = c.provider.GetHolderRecord(ctx, token, deployer, supply, deployer)
		if err != nil {
			return nil, fmt.Errorf("deployer record %s: %w", deployer, err)
		}
	}

	holders, err := c.provider.GetTopHolders(ctx, token, t.key.kind.HolderLimit())
	if err != nil {
		return nil, fmt.Errorf("top holders: %w", err)
	}

	// No holders is a valid outcome, not a failure.
	records := make([]*domain.HolderRecord, 0, len(holders))
	for _, h := range holders {
		r, err := c.provider.GetHolderRecord(ctx, token, h, supply, deployer)
		if err != nil {
			return nil, fmt.Errorf("holder record %s: %w", h, err)
		}
		records = append(records, r)
	}

	var connection *domain.ConnectionAnalysis
	if t.key.kind == domain.KindDeep && len(records) >= connectionAnalysisMinHolders {
		connection, err = c.graph.Analyze(ctx, records)
		if err != nil {
			return nil, fmt.Errorf("connection analysis: %w", err)
		}
	}

	return &domain.AnalysisReport{
		TokenAddress:       token,
		Kind:               t.key.kind,
		ContractInfo:       *info,
		TotalSupply:        supply,
		DeployerAnalysis:   deployerAnalysis,
		HoldersAnalysis:    records,
		ConnectionAnalysis: connection,
		GeneratedAt:        c.now(),
	}, nil
}

func (c *Coordinator) timedContractInfo(ctx context.Context, token string) (*domain.ContractInfo, error) {
	start := time.Now()
	info, err := c.provider.GetContractInfo(ctx, token)
	observability.RecordProviderCall("contract_info", time.Since(start).Seconds(), err)
	if err != nil {
		if errors.Is(err, chaindata.ErrNotAToken) {
			return nil, fmt.Errorf("%s is not a valid token contract: %w", token, err)
		}
		return nil, fmt.Errorf("contract info: %w", err)
	}
	return info, nil
}

// failTask refunds every requester debited for this admission wave exactly
// once and notifies each of them. Refunds run in rounds: a requester may
// attach (and be debited) while an earlier round's refunds are in flight,
// so the in-flight record is removed only in the critical section that
// found nothing left to refund. A later Submit then starts a fresh wave.
func (c *Coordinator) failTask(t *task, rec *inFlight, cause error) {
	cost := t.key.kind.CreditCost()

	var refunded []waiter
	for {
		c.mu.Lock()
		round := make([]waiter, 0, len(rec.debited))
		for requester := range rec.debited {
			round = append(round, waiter{requester: requester, channel: rec.channels[requester]})
			// Dropping the channel entry keeps a re-submitting requester
			// from silently joining the already-failed wave.
			delete(rec.channels, requester)
		}
		// Clearing the set before any refund is issued makes a re-entered
		// failure path a no-op.
		rec.debited = make(map[string]struct{})
		if len(round) == 0 {
			delete(c.inFlight, t.key)
			c.updateGaugesLocked()
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		sort.Slice(round, func(i, j int) bool { return round[i].requester < round[j].requester })

		// Refunds use a fresh context: the task context is typically
		// already expired or cancelled when this runs.
		ctx, cancel := context.WithTimeout(context.Background(), refundTimeout)
		for _, w := range round {
			err := c.ledger.Credit(ctx, w.requester, cost)
			observability.RecordRefund(cost, err)
			if err != nil {
				c.logger.Printf("refund %d credits to %s: %v", cost, w.requester, err)
				c.sink.NotifyFailure(w.channel,
					"analysis failed and the refund could not be issued, please contact support", 0)
			} else {
				c.sink.NotifyFailure(w.channel, cause.Error(), cost)
			}
			observability.RecordFailureNotice()
		}
		cancel()
		refunded = append(refunded, round...)
	}

	c.logOutcomes(t, refunded, domain.StatusFailed, cause.Error())
}

// archive records the task outcome and holder snapshot rows. Best-effort:
// store errors are logged and never affect delivery.
func (c *Coordinator) archive(t *task, report *domain.AnalysisReport, delivered []waiter) {
	c.logOutcomes(t, delivered, domain.StatusDelivered, "")

	if c.snapshots == nil || len(report.HoldersAnalysis) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), refundTimeout)
	defer cancel()

	at := c.now().UnixMilli()
	rows := make([]*domain.HolderSnapshot, 0, len(report.HoldersAnalysis))
	for _, h := range report.HoldersAnalysis {
		rows = append(rows, &domain.HolderSnapshot{
			TokenAddress:   report.TokenAddress,
			Kind:           report.Kind,
			Address:        h.Address,
			AddressType:    h.AddressType,
			Balance:        h.Balance.String(),
			BalancePercent: h.BalancePercent,
			AgeDays:        h.AgeInfo.AgeDays,
			HasBaseNFTs:    h.NFTInfo.HasBaseNFTs,
			HasEthNFTs:     h.NFTInfo.HasEthNFTs,
			TotalTxCount:   h.ActivityInfo.Base.TotalTxCount + h.ActivityInfo.Eth.TotalTxCount,
			RecentTxCount:  h.ActivityInfo.TotalRecentTxCount,
			SnapshotAt:     at,
		})
	}
	if err := c.snapshots.InsertBulk(ctx, rows); err != nil {
		c.logger.Printf("archive %d holder snapshots for %s: %v", len(rows), report.TokenAddress, err)
	}
}

func (c *Coordinator) logOutcomes(t *task, requesters []waiter, status domain.AnalysisStatus, detail string) {
	if c.logs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), refundTimeout)
	defer cancel()

	at := c.now().UnixMilli()
	for _, w := range requesters {
		e := &domain.AnalysisLogEntry{
			RequesterID:  w.requester,
			TokenAddress: t.key.token,
			Kind:         t.key.kind,
			Status:       status,
			Detail:       detail,
			LoggedAt:     at,
		}
		if err := c.logs.Insert(ctx, e); err != nil {
			c.logger.Printf("log %s outcome for %s: %v", status, w.requester, err)
		}
	}
}

// storeCacheLocked caches a report under its (token, kind) key, evicting
// the oldest entry once the cap is reached.
func (c *Coordinator) storeCacheLocked(key taskKey, report *domain.AnalysisReport) {
	if _, exists := c.cache[key]; !exists {
		c.cacheOrder = append(c.cacheOrder, key)
		if len(c.cacheOrder) > c.cacheCap {
			oldest := c.cacheOrder[0]
			c.cacheOrder = c.cacheOrder[1:]
			delete(c.cache, oldest)
		}
	}
	c.cache[key] = report
}
