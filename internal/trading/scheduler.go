package trading

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"safe-trade-bot/internal/bus"
	"safe-trade-bot/internal/directory"
	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/flow"
	"safe-trade-bot/internal/safe"
	"safe-trade-bot/internal/signal"
	"safe-trade-bot/internal/token"
)

// TokenResolver maps a symbol to candidate chain bindings. *token.Resolver
// satisfies it.
type TokenResolver interface {
	Resolve(ctx context.Context, symbol string, activeNetworks []token.NetworkKey) ([]token.Binding, error)
}

// WalletValidator checks a wallet deployment. *safe.Validator satisfies it.
type WalletValidator interface {
	Validate(ctx context.Context, callerID, walletAddress string, network token.NetworkKey, nativeDenominated bool) (safe.Result, error)
}

// SchedulerConfig tunes admission and the exit pipeline.
type SchedulerConfig struct {
	AutoTradingEnabled bool
	// FanOut is the number of execution workers; the per-trade lease keeps
	// concurrency safe regardless.
	FanOut int
	// TP1ExitPercent of the original position sold when TP1 fires; 100 closes
	// the position at the first target.
	TP1ExitPercent int
	// TrailingEnabled arms a trailing stop at TP2 instead of exiting there.
	TrailingEnabled bool

	ExitRetryBase time.Duration
	ExitRetryCap  time.Duration
	ExitRetryMax  int
}

func (c *SchedulerConfig) defaults() {
	if c.FanOut <= 0 {
		c.FanOut = 8
	}
	if c.TP1ExitPercent <= 0 || c.TP1ExitPercent > 100 {
		c.TP1ExitPercent = 100
	}
	if c.ExitRetryBase <= 0 {
		c.ExitRetryBase = time.Second
	}
	if c.ExitRetryCap <= 0 {
		c.ExitRetryCap = 30 * time.Second
	}
	if c.ExitRetryMax <= 0 {
		c.ExitRetryMax = 5
	}
}

// Scheduler is the orchestrator: it admits signals, schedules entries and
// exits through the priority queue, and reacts to monitor emissions.
type Scheduler struct {
	cfg SchedulerConfig

	store     *Store
	queue     *Queue
	dedup     *signal.Dedup
	dir       directory.Directory
	resolver  TokenResolver
	validator WalletValidator
	sizer     *Sizer
	executor  *Executor
	monitor   *Monitor
	events    *bus.Bus
	flows     *flow.Tracker

	// envs and base funding asset per configured network
	envs  map[token.NetworkKey]Env
	bases map[token.NetworkKey]token.Binding

	mu           sync.Mutex
	shuttingDown bool

	// flight serialises concurrent deliveries of the same signal id so the
	// dedup check and the admission behind it act as one step
	flight singleflight.Group

	workers sync.WaitGroup
	cancel  context.CancelFunc

	now func() time.Time
}

func NewScheduler(
	cfg SchedulerConfig,
	store *Store,
	dedup *signal.Dedup,
	dir directory.Directory,
	resolver TokenResolver,
	validator WalletValidator,
	sizer *Sizer,
	executor *Executor,
	monitor *Monitor,
	events *bus.Bus,
	envs map[token.NetworkKey]Env,
	bases map[token.NetworkKey]token.Binding,
) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		queue:     NewQueue(),
		dedup:     dedup,
		dir:       dir,
		resolver:  resolver,
		validator: validator,
		sizer:     sizer,
		executor:  executor,
		monitor:   monitor,
		events:    events,
		flows:     flow.NewTracker(),
		envs:      envs,
		bases:     bases,
		now:       time.Now,
	}
}

// SubmitSignal runs admission: validation, dedup, wallet directory, token
// resolution, chain selection, wallet validation, and position sizing.
// Accepted signals get a trade and a queued entry; every outcome is
// remembered for replays, and concurrent deliveries of one signal id
// collapse into a single admission.
func (s *Scheduler) SubmitSignal(ctx context.Context, sig signal.Signal) signal.Classification {
	v, _, _ := s.flight.Do(sig.SignalID, func() (any, error) {
		if outcome, seen := s.dedup.Seen(sig.SignalID); seen {
			log.Debug().Str("signalId", sig.SignalID).Str("tradeId", outcome.TradeID).Msg("duplicate signal, replaying outcome")
			return outcome, nil
		}

		outcome := s.admit(ctx, sig)
		s.dedup.Record(sig.SignalID, outcome)
		if outcome.Accepted {
			s.events.Publish(bus.TopicSignalAccepted, sig.SignalID, outcome.TradeID)
		} else {
			s.events.Publish(bus.TopicSignalRejected, sig.SignalID, outcome.Code, outcome.Message)
		}
		return outcome, nil
	})
	return v.(signal.Classification)
}

func (s *Scheduler) admit(ctx context.Context, sig signal.Signal) signal.Classification {
	s.mu.Lock()
	down := s.shuttingDown
	auto := s.cfg.AutoTradingEnabled
	s.mu.Unlock()
	if down {
		return reject(errs.New(errs.SystemShutdown, "orchestrator is shutting down"))
	}
	if !auto {
		return reject(errs.New(errs.ConfigurationError, "auto trading is disabled"))
	}

	if err := sig.Validate(s.now()); err != nil {
		return reject(err)
	}

	flowID := s.flows.ID(sig.SignalID)
	logger := s.flows.Logger(sig.SignalID)
	s.flows.Start(sig.SignalID, "scheduler", "admit")

	trade, plan, err := s.buildTrade(ctx, sig, flowID)
	if err != nil {
		logger.Warn().Err(err).Msg("signal admission failed")
		s.flows.Fail(sig.SignalID, "scheduler", "admit", err)
		s.flows.Release(sig.SignalID)

		// the failed attempt is still recorded so operators can audit it
		failed := &Trade{
			ID:        uuid.NewString(),
			FlowID:    flowID,
			Signal:    sig,
			Wallet:    sig.WalletAddress,
			State:     StatePending,
			CreatedAt: s.now(),
			UpdatedAt: s.now(),
		}
		failed.Fail(err)
		if putErr := s.store.Put(failed); putErr == nil {
			s.events.Publish(bus.TopicTradeFailed, failed.ID, string(failed.FailCode), failed.FailMessage)
		}

		out := reject(err)
		out.TradeID = failed.ID
		return out
	}

	if err := s.store.Put(trade); err != nil {
		s.flows.Release(sig.SignalID)
		return reject(errs.Wrap(errs.UnknownError, err, "register trade"))
	}

	s.queue.Push(&Request{
		TradeID:       trade.ID,
		Action:        ActionEnter,
		Priority:      PriorityNormal,
		SellAmountRaw: plan.SellAmountRaw,
	})
	s.flows.Step(sig.SignalID, "scheduler", "entry queued")

	return signal.Classification{TradeID: trade.ID, Accepted: true}
}

// buildTrade performs the network-touching admission steps, sizing included:
// an unsizable signal is rejected here, not accepted and failed later.
func (s *Scheduler) buildTrade(ctx context.Context, sig signal.Signal, flowID string) (*Trade, *Plan, error) {
	record, err := s.dir.GetWallet(ctx, sig.CallerID, sig.WalletAddress)
	if err != nil {
		return nil, nil, err
	}
	active := record.Networks()

	bindings, err := s.resolver.Resolve(ctx, sig.Symbol, active)
	if err != nil {
		return nil, nil, err
	}

	// chain selection: the best-ranked binding on a network that is both
	// active for this wallet and configured here
	var target *token.Binding
	for i := range bindings {
		b := bindings[i]
		if !record.ActiveOn(b.Network) {
			continue
		}
		if _, configured := s.envs[b.Network]; !configured {
			continue
		}
		if _, hasBase := s.bases[b.Network]; !hasBase {
			continue
		}
		target = &b
		break
	}
	if target == nil {
		// distinguish "wallet is not there" from "we are not there"
		for _, b := range bindings {
			if record.ActiveOn(b.Network) {
				return nil, nil, errs.Newf(errs.UnsupportedNetwork,
					"%s trades on %s, which this orchestrator is not configured for", sig.Symbol, b.Network).
					WithContext(errs.Context{SignalID: sig.SignalID, Symbol: sig.Symbol, Network: string(b.Network)})
			}
		}
		return nil, nil, errs.Newf(errs.SafeNotDeployed,
			"wallet %s has no active deployment on %s, where %s trades",
			sig.WalletAddress, bindingNetworks(bindings), sig.Symbol).
			WithContext(errs.Context{SignalID: sig.SignalID, Symbol: sig.Symbol, WalletAddress: sig.WalletAddress})
	}

	base := s.bases[target.Network]
	if _, err := s.validator.Validate(ctx, sig.CallerID, sig.WalletAddress, target.Network, base.IsNative); err != nil {
		return nil, nil, err
	}

	now := s.now()
	trade := &Trade{
		ID:              uuid.NewString(),
		FlowID:          flowID,
		Signal:          sig,
		Network:         target.Network,
		Wallet:          sig.WalletAddress,
		Base:            base,
		Target:          *target,
		State:           StatePending,
		TrailingEnabled: s.cfg.TrailingEnabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	plan, err := s.sizer.Size(ctx, s.envs[target.Network].Chain, trade)
	if err != nil {
		return nil, nil, err
	}
	s.flows.Step(sig.SignalID, "scheduler", "position sized")
	return trade, plan, nil
}

func bindingNetworks(bindings []token.Binding) string {
	names := make([]string, 0, len(bindings))
	seen := make(map[token.NetworkKey]bool)
	for _, b := range bindings {
		if !seen[b.Network] {
			seen[b.Network] = true
			names = append(names, string(b.Network))
		}
	}
	return strings.Join(names, ", ")
}

func reject(err error) signal.Classification {
	e := errs.From(err)
	return signal.Classification{
		Accepted: false,
		Code:     string(e.Code),
		Message:  e.UserMessage(),
	}
}

// Start launches the workers, the monitor, and the emission consumer.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.cfg.FanOut; i++ {
		s.workers.Add(1)
		go s.worker(ctx, i)
	}

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.monitor.Run(ctx)
	}()

	s.workers.Add(1)
	go s.consumeEmissions(ctx)

	log.Info().Int("fanOut", s.cfg.FanOut).Msg("scheduler started")
}

// Shutdown stops admission, waits for in-flight executions, and flushes the
// event bus. Queued work that never ran is dropped; open positions stay open
// for the next run.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("shutdown timed out waiting for workers")
	}

	// entries that never ran are marked failed so re-delivery after a restart
	// does not silently lose them; open positions stay open
	horizon := s.now().Add(time.Hour)
	for {
		req := s.queue.Pop(horizon, nil)
		if req == nil {
			break
		}
		t, ok := s.store.Get(req.TradeID)
		if !ok || t.State.Terminal() {
			continue
		}
		if req.Action == ActionEnter && t.State == StatePending {
			s.failTrade(t, errs.New(errs.SystemShutdown, "orchestrator shut down before entry"))
			continue
		}
		log.Warn().Str("tradeId", req.TradeID).Str("action", string(req.Action)).Msg("queued request dropped on shutdown")
	}
	s.events.WaitAsync()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.workers.Done()

	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.queue.Ready():
		case <-poll.C:
		}

		for {
			// Acquiring inside the skip callback means a popped request
			// already holds its trade's lease.
			req := s.queue.Pop(s.now(), func(r *Request) bool {
				return !s.store.Acquire(r.TradeID)
			})
			if req == nil {
				break
			}
			s.dispatch(ctx, req)
			s.store.Release(req.TradeID)
		}
	}
}

// dispatch runs one request while holding the trade's lease.
func (s *Scheduler) dispatch(ctx context.Context, req *Request) {
	t, ok := s.store.Get(req.TradeID)
	if !ok {
		log.Warn().Str("tradeId", req.TradeID).Msg("request for unknown trade dropped")
		return
	}
	if t.State.Terminal() {
		// a competing exit already closed the position; the late request is
		// a no-op, not an error
		log.Debug().Str("tradeId", t.ID).Str("state", string(t.State)).Msg("request against terminal trade ignored")
		return
	}

	switch req.Action {
	case ActionEnter:
		s.runEntry(ctx, t, req)
	case ActionExit:
		s.runExit(ctx, t, req)
	}
}

func (s *Scheduler) runEntry(ctx context.Context, t *Trade, req *Request) {
	env := s.envs[t.Network]
	logger := s.flows.Logger(t.Signal.SignalID)

	err := s.executor.Enter(ctx, env, t, req.SellAmountRaw)
	if err != nil {
		logger.Warn().Str("tradeId", t.ID).Err(err).Msg("entry failed")
		s.failTrade(t, err)
		return
	}

	s.monitor.Attach(t)
	s.events.Publish(bus.TopicTradeEntered, t.ID, t.EntryTxHash)
	s.flows.Step(t.Signal.SignalID, "executor", "position entered")
}

func (s *Scheduler) runExit(ctx context.Context, t *Trade, req *Request) {
	logger := s.flows.Logger(t.Signal.SignalID)
	req.Attempts++

	if err := s.executor.Exit(ctx, s.envs[t.Network], t, req); err != nil {
		s.retryExit(ctx, t, req, err)
		return
	}

	s.events.Publish(bus.TopicTradeExited, t.ID, string(req.Reason), req.Percent)
	if t.State.Terminal() {
		s.closeOut(t)
		logger.Info().Str("tradeId", t.ID).Str("state", string(t.State)).Msg("position closed")
	}
}

// retryExit requeues a failed exit with capped exponential backoff. Exits
// protecting capital escalate to high priority and retry immediately once.
func (s *Scheduler) retryExit(ctx context.Context, t *Trade, req *Request, err error) {
	logger := s.flows.Logger(t.Signal.SignalID)

	if req.Attempts >= s.cfg.ExitRetryMax {
		logger.Error().Str("tradeId", t.ID).Int("attempts", req.Attempts).Err(err).
			Msg("exit abandoned after max retries")
		s.failTrade(t, errs.Wrap(errs.SwapExecutionFailed, err, "exit could not be executed"))
		return
	}

	protective := req.Reason == ExitStopLoss || req.Reason == ExitDeadline
	if protective {
		req.Priority = PriorityHigh
	}

	var delay time.Duration
	if protective && req.Attempts == 1 {
		delay = 0
	} else {
		delay = s.cfg.ExitRetryBase << (req.Attempts - 1)
		if delay > s.cfg.ExitRetryCap {
			delay = s.cfg.ExitRetryCap
		}
	}
	req.NotBefore = s.now().Add(delay)

	logger.Warn().
		Str("tradeId", t.ID).
		Str("reason", string(req.Reason)).
		Int("attempt", req.Attempts).
		Dur("backoff", delay).
		Err(err).
		Msg("exit failed, requeued")
	s.queue.Push(req)
}

func (s *Scheduler) consumeEmissions(ctx context.Context) {
	defer s.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case em := <-s.monitor.Emissions():
			s.handleEmission(em)
		}
	}
}

// handleEmission turns a monitor emission into scheduled work. Every
// emission is published; TP2 with trailing enabled only re-arms the monitor
// and executes nothing.
func (s *Scheduler) handleEmission(em Emission) {
	s.events.Publish(bus.TopicMonitorEmit, em.TradeID, string(em.Reason), em.Price)

	t, ok := s.store.Get(em.TradeID)
	if !ok || t.State.Terminal() {
		return
	}

	req := &Request{
		TradeID: em.TradeID,
		Action:  ActionExit,
		Reason:  em.Reason,
		Price:   em.Price,
	}

	switch em.Reason {
	case ExitTP1:
		req.Percent = s.cfg.TP1ExitPercent
		if req.Percent > t.RemainingPercent() {
			req.Percent = t.RemainingPercent()
		}
		req.Priority = PriorityNormal
	case ExitTP2:
		if t.TrailingEnabled {
			log.Info().
				Str("tradeId", t.ID).
				Float64("price", em.Price).
				Msg("TP2 reached, trailing stop armed")
			return
		}
		req.Percent = t.RemainingPercent()
		req.Priority = PriorityNormal
	case ExitTrailingStop:
		req.Percent = t.RemainingPercent()
		req.Priority = PriorityNormal
	case ExitStopLoss, ExitDeadline:
		req.Percent = t.RemainingPercent()
		req.Priority = PriorityHigh
	default:
		return
	}

	if req.Percent <= 0 {
		return
	}
	s.queue.Push(req)
}

// failTrade closes a trade on an unrecoverable error.
func (s *Scheduler) failTrade(t *Trade, err error) {
	e := errs.From(err).WithContext(errs.Context{
		TradeID:       t.ID,
		SignalID:      t.Signal.SignalID,
		WalletAddress: t.Wallet,
		Network:       string(t.Network),
		Symbol:        t.Target.Symbol,
		FlowID:        t.FlowID,
	})
	_ = s.store.Update(t.ID, func(t *Trade) error {
		t.Fail(e)
		return nil
	})
	s.flows.Fail(t.Signal.SignalID, "scheduler", "execute", e)
	s.closeOut(t)
	s.events.Publish(bus.TopicTradeFailed, t.ID, string(e.Code), e.UserMessage())
}

func (s *Scheduler) closeOut(t *Trade) {
	s.monitor.Detach(t.ID)
	s.flows.Complete(t.Signal.SignalID, "scheduler", "trade", time.Since(t.CreatedAt))
	s.flows.Release(t.Signal.SignalID)
}

// SetAutoTrading flips the admission gate. Open positions keep being managed
// either way; only new signals are affected.
func (s *Scheduler) SetAutoTrading(enabled bool) {
	s.mu.Lock()
	changed := s.cfg.AutoTradingEnabled != enabled
	s.cfg.AutoTradingEnabled = enabled
	s.mu.Unlock()
	if changed {
		log.Info().Bool("enabled", enabled).Msg("auto trading toggled")
	}
}

// QueueLen is exposed for health reporting.
func (s *Scheduler) QueueLen() int {
	return s.queue.Len()
}
