package orch

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/studycall/internal/core"
	"github.com/dkeye/studycall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Tick           time.Duration
	CommandTimeout time.Duration
	QueueSize      int
	Strict         bool
	PromoteAfter   time.Duration
	Speaking       core.SpeakingConfig
	Layout         core.LayoutConfig
}

func DefaultConfig() Config {
	return Config{
		Tick:           100 * time.Millisecond,
		CommandTimeout: 5 * time.Second,
		QueueSize:      256,
		PromoteAfter:   core.DefaultPromoteAfter,
		Speaking:       core.DefaultSpeakingConfig(),
		Layout:         core.DefaultLayoutConfig(),
	}
}

type event func(o *Orchestrator)

// Orchestrator is the engine. It owns the store, the speaking detector, the
// layout selector and the binder, and mutates them only from the Run loop.
// Transport callbacks and control intents are queued as events.
type Orchestrator struct {
	store     *core.Store
	binder    *core.Binder
	speaking  *core.SpeakingDetector
	speaker   *core.SpeakerSelector
	layout    *core.Selector
	transport core.Transport

	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	events   chan event
	done     chan struct{}
	stopOnce sync.Once
	ctx      context.Context

	// loop state
	dirty       bool
	pipExpanded bool
	inflight    map[Intent]bool
	lastDesired map[core.TargetID]*core.TrackHandle
	seq         uint64

	mu      sync.RWMutex
	view    core.View
	viewFn  map[int]func(core.View)
	notices map[int]func(Notice)
	nextSub int
}

func New(cfg Config, surface core.Surface, transport core.Transport) *Orchestrator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultConfig().CommandTimeout
	}
	binder := core.NewBinder(surface, cfg.Strict)
	o := &Orchestrator{
		store:     core.NewStore(binder),
		binder:    binder,
		speaking:  core.NewSpeakingDetector(cfg.Speaking),
		speaker:   core.NewSpeakerSelector(cfg.PromoteAfter),
		layout:    core.NewSelector(cfg.Layout),
		transport: transport,
		cfg:       cfg,
		logger:    log.With().Str("module", "app.orch").Logger(),
		now:       time.Now,
		events:    make(chan event, cfg.QueueSize),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		inflight:  make(map[Intent]bool),
		viewFn:    make(map[int]func(core.View)),
		notices:   make(map[int]func(Notice)),
	}
	o.store.Subscribe(func(core.Change) { o.dirty = true })
	o.view = core.View{Variant: domain.VariantEmpty, Tiles: []core.Tile{}}
	return o
}

// Run processes events until ctx is cancelled. On return every participant
// is removed and every track detached.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	defer o.shutdown()

	ticker := time.NewTicker(o.cfg.Tick)
	defer ticker.Stop()

	o.logger.Info().Msg("engine started")
	o.flush()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("engine stopping")
			return nil
		case ev := <-o.events:
			ev(o)
			o.drain()
			o.flush()
		case <-ticker.C:
			o.sweep()
			o.flush()
		}
	}
}

// Done is closed once the engine stopped accepting events.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// View returns the last published view.
func (o *Orchestrator) View() core.View {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view
}

// Subscribe registers fn for every published view. fn runs on the engine
// goroutine and must not block.
func (o *Orchestrator) Subscribe(fn func(core.View)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.viewFn[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.viewFn, id)
		o.mu.Unlock()
	}
}

// OnNotice registers fn for user-visible notices such as a failed toggle.
func (o *Orchestrator) OnNotice(fn func(Notice)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.notices[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.notices, id)
		o.mu.Unlock()
	}
}

// enqueue blocks until the event is queued or the engine stopped.
// SetTransport replaces the transport used for control requests. It takes
// effect on the loop, after events already queued.
func (o *Orchestrator) SetTransport(t core.Transport) {
	o.enqueue(func(o *Orchestrator) { o.transport = t })
}

func (o *Orchestrator) enqueue(ev event) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.events <- ev:
		return true
	case <-o.done:
		return false
	}
}

// tryEnqueue drops the event when the queue is full.
func (o *Orchestrator) tryEnqueue(ev event) bool {
	select {
	case o.events <- ev:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) drain() {
	for {
		select {
		case ev := <-o.events:
			ev(o)
		default:
			return
		}
	}
}

func (o *Orchestrator) sweep() {
	silenced := o.speaking.Sweep(o.now())
	slices.Sort(silenced)
	for _, id := range silenced {
		o.store.SetSpeaking(id, false)
	}
}

// flush derives the layout from the current store contents, reconciles
// bindings when the desired set changed and publishes a view if anything
// visible moved.
func (o *Orchestrator) flush() {
	ps := o.store.Snapshot()
	cands := make([]core.SpeakerCandidate, 0, len(ps))
	for _, p := range ps {
		since, _ := o.speaking.SpeakingSince(p.ID)
		cands = append(cands, core.SpeakerCandidate{
			ID:            p.ID,
			IsLocal:       p.IsLocal,
			Speaking:      p.IsSpeaking,
			SpeakingSince: since,
		})
	}
	speaker, speakerChanged := o.speaker.Update(cands, o.now())
	if speakerChanged {
		o.logger.Debug().Str("speaker", string(speaker)).Msg("main speaker changed")
	}

	d, layoutChanged := o.layout.Select(core.LayoutInputFrom(ps, speaker))
	if layoutChanged {
		o.logger.Info().
			Str("variant", string(d.Variant)).
			Int("participants", d.Count).
			Int("overflow", d.Overflow).
			Msg("layout changed")
	}

	desired := core.DesiredBindings(d, o.store.Get)
	rebound := false
	if o.lastDesired == nil || !core.SameBindings(desired, o.lastDesired) {
		res := o.binder.Reconcile(desired)
		o.lastDesired = desired
		rebound = res.Changed() || res.Failed > 0
		o.logger.Debug().
			Int("attached", res.Attached).
			Int("detached", res.Detached).
			Int("failed", res.Failed).
			Msg("reconciled")
	}

	if !layoutChanged && !rebound && !o.dirty {
		return
	}
	o.dirty = false
	o.publish(core.BuildView(d, o.store.Get, o.binder, o.pipExpanded))
}

func (o *Orchestrator) publish(v core.View) {
	o.seq++
	v.Seq = o.seq

	o.mu.Lock()
	o.view = v
	subs := make([]func(core.View), 0, len(o.viewFn))
	for _, k := range slices.Sorted(maps.Keys(o.viewFn)) {
		subs = append(subs, o.viewFn[k])
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

func (o *Orchestrator) notify(n Notice) {
	o.logger.Warn().Err(n.Err).Str("intent", string(n.Intent)).Msg(n.Message)
	o.mu.RLock()
	subs := make([]func(Notice), 0, len(o.notices))
	for _, k := range slices.Sorted(maps.Keys(o.notices)) {
		subs = append(subs, o.notices[k])
	}
	o.mu.RUnlock()
	for _, fn := range subs {
		fn(n)
	}
}

func (o *Orchestrator) shutdown() {
	o.stopOnce.Do(func() { close(o.done) })
	o.drain()
	o.store.Reset()
	o.flush()
	o.logger.Info().Msg("engine stopped")
}
