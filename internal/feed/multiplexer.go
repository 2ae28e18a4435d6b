package feed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shoonya-bridge/internal/broker"
	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/logging"
	"shoonya-bridge/internal/models"
	"shoonya-bridge/pkg/utils"
)

// Config holds multiplexer tuning.
type Config struct {
	// BufferSize is the size of the internal tick ingest buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel
	// buffer. A subscriber that falls this far behind loses ticks.
	SubscriberBufferSize int
	// ReconnectMaxRetries bounds the reconnect attempts after a drop.
	ReconnectMaxRetries int
	// ReconnectBaseDelay is the initial reconnect backoff delay.
	ReconnectBaseDelay time.Duration
}

// DefaultConfig returns the default multiplexer configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
		ReconnectMaxRetries:  5,
		ReconnectBaseDelay:   time.Second,
	}
}

// StreamOpener returns a stream bound to the current broker session.
// The multiplexer calls it lazily on the first subscribe and again on
// every reconnect.
type StreamOpener func() (broker.Stream, error)

// subscriber is one local consumer with its delivery channel.
type subscriber struct {
	id      string
	ch      chan models.Tick
	dropped uint64
}

// Multiplexer owns the single upstream stream, the last-tick cache and
// the per-subscriber fan-out. The cache has a single writer, the ingest
// loop; subscribers only ever see copies.
type Multiplexer struct {
	config Config
	open   StreamOpener
	reg    *Registry
	logger zerolog.Logger

	mu          sync.RWMutex
	stream      broker.Stream
	subscribers map[string]*subscriber
	cache       map[models.InstrumentKey]models.Tick
	ingest      chan models.Tick
	done        chan struct{}
	started     bool
	closed      bool
}

// NewMultiplexer creates a multiplexer. The stream is not opened until
// the first subscription arrives.
func NewMultiplexer(cfg Config, open StreamOpener, logger zerolog.Logger) *Multiplexer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.SubscriberBufferSize <= 0 {
		cfg.SubscriberBufferSize = DefaultConfig().SubscriberBufferSize
	}
	return &Multiplexer{
		config:      cfg,
		open:        open,
		reg:         NewRegistry(),
		logger:      logger.With().Str("component", "feed").Logger(),
		subscribers: make(map[string]*subscriber),
		cache:       make(map[models.InstrumentKey]models.Tick),
		ingest:      make(chan models.Tick, cfg.BufferSize),
		done:        make(chan struct{}),
	}
}

// Registry exposes the subscription registry for inspection.
func (m *Multiplexer) Registry() *Registry {
	return m.reg
}

// Connected reports whether the upstream stream is currently open.
func (m *Multiplexer) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stream != nil
}

// ActiveSubscriptions counts the live upstream subscriptions across all
// feed types.
func (m *Multiplexer) ActiveSubscriptions() int {
	total := 0
	for _, instruments := range m.reg.Active() {
		total += len(instruments)
	}
	return total
}

// Subscribe registers interest for a subscriber and pushes any newly
// needed instruments upstream. The first call opens the stream.
func (m *Multiplexer) Subscribe(ctx context.Context, subscriberID string, instruments []models.InstrumentKey, feed models.FeedType) error {
	if len(instruments) == 0 {
		return nil
	}
	if err := m.ensureStream(ctx); err != nil {
		return err
	}

	fresh, added := m.reg.Add(subscriberID, instruments, feed)
	if len(fresh) == 0 {
		return nil
	}

	m.mu.RLock()
	stream := m.stream
	m.mu.RUnlock()
	if err := stream.Subscribe(fresh, feed); err != nil {
		// Roll back every key this call registered, not just the ones
		// that needed an upstream subscribe.
		m.reg.Remove(subscriberID, added, feed)
		m.releaseUpstream(nil)
		return apierrors.NewSubscriptionError(keysString(fresh), "upstream subscribe failed", err)
	}

	m.logger.Debug().
		Str("subscriber", subscriberID).
		Int("fresh", len(fresh)).
		Int("requested", len(instruments)).
		Msg("Subscribed")
	return nil
}

// Unsubscribe drops interest for a subscriber and releases upstream
// subscriptions that no one holds anymore.
func (m *Multiplexer) Unsubscribe(ctx context.Context, subscriberID string, instruments []models.InstrumentKey, feed models.FeedType) error {
	idle := m.reg.Remove(subscriberID, instruments, feed)
	return m.releaseUpstream(map[models.FeedType][]models.InstrumentKey{feed: idle})
}

// Detach removes a subscriber entirely: all interest is dropped, idle
// upstream subscriptions are released and the delivery channel closes.
func (m *Multiplexer) Detach(subscriberID string) error {
	idle := m.reg.RemoveAll(subscriberID)

	m.mu.Lock()
	if sub, ok := m.subscribers[subscriberID]; ok {
		delete(m.subscribers, subscriberID)
		close(sub.ch)
	}
	m.mu.Unlock()

	return m.releaseUpstream(idle)
}

// Channel returns the tick delivery channel for a subscriber, creating
// it on first use. Ticks for any instrument the subscriber holds are
// delivered; slow consumers lose ticks rather than block the fan-out.
func (m *Multiplexer) Channel(subscriberID string) <-chan models.Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscribers[subscriberID]
	if !ok {
		sub = &subscriber{
			id: subscriberID,
			ch: make(chan models.Tick, m.config.SubscriberBufferSize),
		}
		m.subscribers[subscriberID] = sub
	}
	return sub.ch
}

// Snapshot returns the cached last tick for each instrument the
// subscriber currently holds. Instruments that have not ticked yet are
// absent.
func (m *Multiplexer) Snapshot(subscriberID string) []models.Tick {
	instruments := m.reg.Instruments(subscriberID)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Tick, 0, len(instruments))
	for _, inst := range instruments {
		if tick, ok := m.cache[inst]; ok {
			out = append(out, tick)
		}
	}
	return out
}

// Close shuts the multiplexer down: the stream closes and every
// subscriber channel is closed.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stream := m.stream
	m.stream = nil
	if m.started {
		close(m.done)
	}
	for id, sub := range m.subscribers {
		close(sub.ch)
		delete(m.subscribers, id)
	}
	m.mu.Unlock()

	if stream != nil {
		return stream.Close()
	}
	return nil
}

// ensureStream lazily opens and connects the upstream stream and starts
// the fan-out loop.
func (m *Multiplexer) ensureStream(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apierrors.ErrStreamClosed
	}
	if m.stream != nil {
		return nil
	}

	stream, err := m.open()
	if err != nil {
		return apierrors.NewSubscriptionError("", "opening stream", err)
	}
	m.bindHandlers(stream)
	if err := stream.Connect(ctx); err != nil {
		return apierrors.NewSubscriptionError("", "connecting stream", err)
	}

	m.stream = stream
	if !m.started {
		m.started = true
		go m.fanOut()
	}
	return nil
}

func (m *Multiplexer) bindHandlers(stream broker.Stream) {
	stream.OnTick(func(tick models.Tick) {
		select {
		case m.ingest <- tick:
		default:
			// Ingest buffer full; drop rather than block the reader.
		}
	})
	stream.OnDisconnect(func(err error) {
		m.logger.Warn().Err(err).Msg("Stream disconnected")
		go m.reconnect()
	})
}

// fanOut is the single writer of the tick cache. Deliveries happen
// under the lock so Detach and Close can never close a channel while a
// send is in flight; sends are non-blocking, so the lock is held only
// briefly.
func (m *Multiplexer) fanOut() {
	for {
		select {
		case <-m.done:
			return
		case tick := <-m.ingest:
			m.mu.Lock()
			m.cache[tick.Instrument] = tick
			for id, sub := range m.subscribers {
				if !m.holds(id, tick.Instrument) {
					continue
				}
				select {
				case sub.ch <- tick:
				default:
					sub.dropped++
				}
			}
			m.mu.Unlock()
		}
	}
}

// holds must not take m.mu; the registry has its own lock.
func (m *Multiplexer) holds(subscriberID string, instrument models.InstrumentKey) bool {
	for _, held := range m.reg.Instruments(subscriberID) {
		if held == instrument {
			return true
		}
	}
	return false
}

// reconnect reopens the stream with exponential backoff and restores
// every live upstream subscription.
func (m *Multiplexer) reconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.stream = nil
	m.mu.Unlock()

	cfg := utils.RetryConfig{
		MaxAttempts:   m.config.ReconnectMaxRetries,
		InitialDelay:  m.config.ReconnectBaseDelay,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}

	err := utils.Retry(context.Background(), cfg, func() error {
		stream, err := m.open()
		if err != nil {
			return err
		}
		m.bindHandlers(stream)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := stream.Connect(ctx); err != nil {
			return err
		}

		for feedType, instruments := range m.reg.Active() {
			if err := stream.Subscribe(instruments, feedType); err != nil {
				stream.Close()
				return err
			}
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			stream.Close()
			return nil
		}
		m.stream = stream
		m.mu.Unlock()
		return nil
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("Stream reconnect exhausted retries")
	} else {
		m.logger.Info().Msg("Stream reconnected and resubscribed")
	}
}

// releaseUpstream unsubscribes idle instruments; failures are logged
// and swallowed since local bookkeeping is already consistent.
func (m *Multiplexer) releaseUpstream(idle map[models.FeedType][]models.InstrumentKey) error {
	m.mu.RLock()
	stream := m.stream
	m.mu.RUnlock()
	if stream == nil {
		return nil
	}

	for feedType, instruments := range idle {
		if len(instruments) == 0 {
			continue
		}
		if err := stream.Unsubscribe(instruments, feedType); err != nil {
			m.logger.Warn().Err(err).Str("feed", string(feedType)).Msg("Upstream unsubscribe failed")
			continue
		}
		for _, inst := range instruments {
			instLogger := logging.WithInstrument(m.logger, inst.String())
			instLogger.Debug().
				Str("feed", string(feedType)).
				Msg("Upstream subscription released")
		}
	}

	// The last interest leaving tears the stream down; the next
	// subscribe reopens it.
	if len(m.reg.Active()) > 0 {
		return nil
	}
	m.mu.Lock()
	if m.closed || m.stream != stream {
		m.mu.Unlock()
		return nil
	}
	m.stream = nil
	m.mu.Unlock()

	if err := stream.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("Stream close failed")
		return nil
	}
	m.logger.Debug().Msg("Stream closed after last unsubscribe")
	return nil
}

func keysString(instruments []models.InstrumentKey) string {
	if len(instruments) == 0 {
		return ""
	}
	return instruments[0].String()
}
