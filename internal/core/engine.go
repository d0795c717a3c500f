package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PMMEngine/internal/event"
	fpmath "PMMEngine/internal/math"
	"PMMEngine/internal/observability"
	"PMMEngine/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine applies commands to pools. Commands for the same pool are
// serialised by a per-pool mutex, so each pool has exactly one mutator in
// flight; different pools proceed in parallel.
type Engine struct {
	store             Store
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger
	now               func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*poolLock

	publishChan chan<- event.Outcome
}

// EngineConfig wires an Engine. Store is required; everything else has a
// usable zero value.
type EngineConfig struct {
	Store           Store
	IdempotencySize int
	PublishChan     chan<- event.Outcome
	Metrics         *observability.Metrics
	Logger          zerolog.Logger
	Clock           func() time.Time
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	size := cfg.IdempotencySize
	if size <= 0 {
		size = 100_000
	}
	lookup, _ := cfg.Store.(OutcomeLookup)
	idem, err := NewIdempotencyChecker(size, lookup, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:             cfg.Store,
		idempotency:       idem,
		sequenceValidator: NewSequenceValidator(cfg.Metrics),
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		now:               clock,
		locks:             make(map[uuid.UUID]*poolLock),
		publishChan:       cfg.PublishChan,
	}, nil
}

// poolLock serialises commands on one pool. Entries are reference counted
// and dropped once idle unless the pool is known to exist, so commands for
// unknown pool IDs leave nothing behind.
type poolLock struct {
	sync.Mutex
	refs  int
	known bool
}

func (e *Engine) acquire(id uuid.UUID) *poolLock {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &poolLock{}
		e.locks[id] = l
	}
	l.refs++
	e.mu.Unlock()

	l.Lock()
	return l
}

func (e *Engine) release(id uuid.UUID, l *poolLock, exists bool) {
	l.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	l.refs--
	if exists {
		l.known = true
	}
	if l.refs == 0 && !l.known {
		delete(e.locks, id)
	}
}

// Apply is the main processing pipeline. On any error the stored pool is
// untouched. A duplicate command returns the outcome recorded the first time.
func (e *Engine) Apply(ctx context.Context, cmd event.Command) (event.Outcome, error) {
	start := time.Now()
	commandType := cmd.CommandType()
	label := commandType.Subject()

	if commandType == event.CommandTypeUnknown {
		e.reject(label, ErrUnknownCommand)
		return event.Outcome{}, ErrUnknownCommand
	}

	lock := e.acquire(cmd.Pool())
	exists := false
	defer func() { e.release(cmd.Pool(), lock, exists) }()

	// Step 1: Idempotency check (two-tier). Done under the pool lock so two
	// deliveries of the same command cannot both pass.
	out, dup, err := e.idempotency.Lookup(ctx, cmd)
	if err != nil {
		e.reject(label, err)
		e.logger.Warn().
			Str("command_type", label).
			Str("idempotency_key", cmd.IdempotencyKey()).
			Err(err).
			Msg("idempotency key reused")
		return event.Outcome{}, err
	}
	if dup {
		e.logger.Debug().
			Str("command_type", label).
			Str("idempotency_key", cmd.IdempotencyKey()).
			Msg("duplicate command")
		return out, nil
	}

	// Step 2: Load
	prev, err := e.load(ctx, cmd)
	if err != nil {
		e.reject(label, err)
		return event.Outcome{}, err
	}
	exists = prev.Sequence > 0

	// Step 3: Dispatch onto a copy
	next := *prev
	out = event.Outcome{
		IdempotencyKey: cmd.IdempotencyKey(),
		CommandType:    commandType,
		PoolID:         cmd.Pool(),
	}
	if err := e.dispatch(cmd, &next, &out); err != nil {
		e.reject(label, err)
		e.logger.Info().
			Str("command_type", label).
			Str("pool_id", cmd.Pool().String()).
			Str("code", state.CodeName(state.Code(err))).
			Err(err).
			Msg("command rejected")
		return event.Outcome{}, err
	}

	// Step 4: Post-check
	if err := next.State.Validate(); err != nil {
		e.reject(label, err)
		e.logger.Error().
			Str("command_type", label).
			Str("pool_id", cmd.Pool().String()).
			Err(err).
			Msg("post-check failed")
		return event.Outcome{}, fmt.Errorf("post-check: %w", err)
	}

	// Step 5: Hash chain
	hashStart := time.Now()
	next.Sequence = prev.Sequence + 1
	next.UpdatedAt = e.now().UTC()
	next.StateHash = ComputeHash(prev.StateHash, next.Sequence, next.CanonicalBytes())
	if e.metrics != nil {
		e.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	out.Sequence = next.Sequence
	out.TotalShares = next.TotalShares
	out.Regime = next.State.Regime.String()
	out.StateHash = next.StateHash
	out.PrevHash = prev.StateHash
	out.AppliedAt = next.UpdatedAt

	// Step 6: Persist. Nothing is visible until this succeeds.
	if err := e.store.Persist(ctx, &next, &out); err != nil {
		e.reject(label, err)
		e.logger.Error().
			Str("command_type", label).
			Str("pool_id", cmd.Pool().String()).
			Int64("sequence", next.Sequence).
			Err(err).
			Msg("persist failed")
		return event.Outcome{}, fmt.Errorf("persist pool %s: %w", cmd.Pool(), err)
	}

	// Step 7: Bookkeeping
	exists = true
	e.idempotency.MarkProcessed(out)
	e.record(label, prev, &next, &out, time.Since(start))
	e.logger.Debug().
		Str("command_type", label).
		Str("pool_id", cmd.Pool().String()).
		Int64("sequence", next.Sequence).
		Uint64("base_amount", out.BaseAmount).
		Uint64("quote_amount", out.QuoteAmount).
		Str("regime", out.Regime).
		Msg("command applied")

	// Step 8: Publish (non-blocking, drop if full)
	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	return out, nil
}

func (e *Engine) load(ctx context.Context, cmd event.Command) (*Pool, error) {
	p, err := e.store.Load(ctx, cmd.Pool())
	if _, creating := cmd.(*event.CreatePool); creating {
		switch {
		case err == nil:
			return nil, fmt.Errorf("pool %s: %w", cmd.Pool(), ErrPoolExists)
		case errors.Is(err, ErrPoolNotFound):
			return &Pool{ID: cmd.Pool(), StateHash: GenesisHash(cmd.Pool())}, nil
		default:
			return nil, fmt.Errorf("load pool %s: %w", cmd.Pool(), err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load pool %s: %w", cmd.Pool(), err)
	}
	if err := p.State.Validate(); err != nil {
		return nil, fmt.Errorf("stored pool %s: %w", cmd.Pool(), err)
	}
	return p, nil
}

func (e *Engine) dispatch(cmd event.Command, p *Pool, out *event.Outcome) error {
	switch c := cmd.(type) {
	case *event.CreatePool:
		return e.handleCreatePool(c, p)
	case *event.Trade:
		return e.handleTrade(c, p, out)
	case *event.Deposit:
		return e.handleDeposit(c, p, out)
	case *event.Withdraw:
		return e.handleWithdraw(c, p, out)
	case *event.MarketPriceUpdate:
		return e.handleMarketPrice(c, p)
	default:
		return fmt.Errorf("%T: %w", cmd, ErrUnknownCommand)
	}
}

func (e *Engine) handleCreatePool(c *event.CreatePool, p *Pool) error {
	s, err := state.NewState(c.MarketPrice, c.Slope)
	if err != nil {
		return err
	}
	p.State = s
	return nil
}

func (e *Engine) handleTrade(c *event.Trade, p *Pool, out *event.Outcome) error {
	var (
		res  state.TradeResult
		next state.PMMState
		err  error
	)
	switch c.TradeSide {
	case event.SideSellBase:
		res, next, err = p.State.SwapBaseIn(c.Amount, c.Limit)
		out.BaseAmount, out.QuoteAmount = res.AmountIn, res.AmountOut
	case event.SideSellQuote:
		res, next, err = p.State.SwapQuoteIn(c.Amount, c.Limit)
		out.BaseAmount, out.QuoteAmount = res.AmountOut, res.AmountIn
	case event.SideBuyBase:
		limit := c.Limit
		if limit == 0 {
			limit = ^uint64(0)
		}
		res, next, err = p.State.SwapBaseOut(c.Amount, limit)
		out.BaseAmount, out.QuoteAmount = res.AmountOut, res.AmountIn
	default:
		return fmt.Errorf("trade side %d: %w", c.TradeSide, ErrUnknownCommand)
	}
	if err != nil {
		return err
	}
	p.State = next
	return nil
}

func (e *Engine) handleDeposit(c *event.Deposit, p *Pool, out *event.Outcome) error {
	res, next, err := p.State.Deposit(c.BaseIn, c.QuoteIn, c.MinShares, p.TotalShares)
	if err != nil {
		return err
	}
	if res.Shares > ^uint64(0)-p.TotalShares {
		return fmt.Errorf("share supply overflow: %w", fpmath.ErrArithmetic)
	}
	p.State = next
	p.TotalShares += res.Shares
	out.BaseAmount, out.QuoteAmount, out.Shares = res.BaseIn, res.QuoteIn, res.Shares
	return nil
}

func (e *Engine) handleWithdraw(c *event.Withdraw, p *Pool, out *event.Outcome) error {
	base, quote, next, err := p.State.SellShares(c.Shares, c.MinBaseOut, c.MinQuoteOut, p.TotalShares)
	if err != nil {
		return err
	}
	p.State = next
	p.TotalShares -= c.Shares
	out.BaseAmount, out.QuoteAmount, out.Shares = base, quote, c.Shares
	return nil
}

func (e *Engine) handleMarketPrice(c *event.MarketPriceUpdate, p *Pool) error {
	gap, err := e.sequenceValidator.ValidatePriceSequence(p.ID, p.PriceSequence, c.PriceSequence)
	if err != nil {
		return err
	}
	if gap {
		e.logger.Warn().
			Str("pool_id", p.ID.String()).
			Int64("last", p.PriceSequence).
			Int64("got", c.PriceSequence).
			Msg("price sequence gap")
	}
	next, err := p.State.WithMarketPrice(c.Price)
	if err != nil {
		return err
	}
	p.State = next
	p.PriceSequence = c.PriceSequence
	return nil
}

func (e *Engine) reject(label string, err error) {
	if e.metrics == nil {
		return
	}
	reason := state.CodeName(state.Code(err))
	switch {
	case errors.Is(err, ErrPoolNotFound):
		reason = "pool_not_found"
	case errors.Is(err, ErrPoolExists):
		reason = "pool_exists"
	case errors.Is(err, ErrStalePrice):
		reason = "stale_price"
	case errors.Is(err, ErrUnknownCommand):
		reason = "unknown_command"
	case errors.Is(err, ErrDuplicateKey):
		reason = "duplicate_key"
	}
	e.metrics.CommandsRejected.WithLabelValues(label, reason).Inc()
}

func (e *Engine) record(label string, prev, next *Pool, out *event.Outcome, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	m := e.metrics
	poolID := next.ID.String()
	m.CommandsApplied.WithLabelValues(label).Inc()
	m.CommandDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	m.PoolSequence.WithLabelValues(poolID).Set(float64(next.Sequence))
	m.PoolRegime.WithLabelValues(poolID).Set(float64(next.State.Regime.StorageByte()))
	m.TotalShares.WithLabelValues(poolID).Set(float64(next.TotalShares))
	m.MarketPrice.WithLabelValues(poolID).Set(next.State.MarketPrice.Decimal().InexactFloat64())

	switch out.CommandType {
	case event.CommandTypeSellBase, event.CommandTypeSellQuote, event.CommandTypeBuyBase:
		m.TradeVolume.WithLabelValues(label, "base").Add(float64(out.BaseAmount))
		m.TradeVolume.WithLabelValues(label, "quote").Add(float64(out.QuoteAmount))
	}
	if prev.State.Regime != next.State.Regime && out.CommandType != event.CommandTypeCreatePool {
		m.RegimeTransitions.WithLabelValues(prev.State.Regime.String(), next.State.Regime.String()).Inc()
	}
}

// --- Read paths ---

// Pool returns the stored pool.
func (e *Engine) Pool(ctx context.Context, id uuid.UUID) (*Pool, error) {
	p, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load pool %s: %w", id, err)
	}
	return p, nil
}

// Pools lists every stored pool.
func (e *Engine) Pools(ctx context.Context) ([]*Pool, error) {
	return e.store.List(ctx)
}

// MidPrice returns the pool's marginal price of base in quote.
func (e *Engine) MidPrice(ctx context.Context, id uuid.UUID) (fpmath.FixedPoint, error) {
	p, err := e.Pool(ctx, id)
	if err != nil {
		return fpmath.FixedPoint{}, err
	}
	return p.State.MidPrice()
}

// Quote prices a trade against the current state without applying it.
func (e *Engine) Quote(ctx context.Context, id uuid.UUID, side event.Side, amount uint64) (state.TradeResult, error) {
	p, err := e.Pool(ctx, id)
	if err != nil {
		return state.TradeResult{}, err
	}
	var res state.TradeResult
	switch side {
	case event.SideSellBase:
		res, _, err = p.State.SellBase(amount)
	case event.SideSellQuote:
		res, _, err = p.State.SellQuote(amount)
	case event.SideBuyBase:
		res, _, err = p.State.BuyBase(amount)
	default:
		return state.TradeResult{}, fmt.Errorf("trade side %d: %w", side, ErrUnknownCommand)
	}
	return res, err
}

// WarmIdempotency preloads recently applied outcomes.
func (e *Engine) WarmIdempotency(outcomes []event.Outcome) {
	e.idempotency.Warm(outcomes)
}
