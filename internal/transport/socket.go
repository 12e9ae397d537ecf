package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"uavnetsim/internal/wire"
)

// Socket pairs one Publisher and one Subscriber and adds a periodic
// heartbeat. Inbound messages go to the handlers registered with OnMessage.
type Socket struct {
	opts Options
	log  *slog.Logger
	pub  *Publisher
	sub  *Subscriber

	mu       sync.Mutex
	handlers []func(topic, payload string)
	closed   bool

	// held across subscriber teardown and reconnect
	rebindMu sync.Mutex

	hbInterval chan time.Duration
	hbStop     chan struct{}
	hbWG       sync.WaitGroup
}

// NewSocket creates an idle socket.
func NewSocket(opts Options) *Socket {
	opts = opts.withDefaults()
	s := &Socket{
		opts:       opts,
		log:        opts.Log.With("component", "socket"),
		pub:        NewPublisher(opts),
		hbInterval: make(chan time.Duration, 1),
		hbStop:     make(chan struct{}),
	}
	s.sub = NewSubscriber(DispatchFunc(s.dispatch), opts)
	return s
}

// OnMessage registers fn for every inbound message that passes the topic
// filters. fn runs on the receive goroutine.
func (s *Socket) OnMessage(fn func(topic, payload string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

func (s *Socket) dispatch(topic, payload string) {
	s.mu.Lock()
	hs := s.handlers
	s.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
}

// Start binds the publisher to pubAddr, connects the subscriber to subAddr
// with the given topic filters and starts the heartbeat. Either address may
// be empty to skip that half.
func (s *Socket) Start(pubAddr, subAddr string, topics []string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()
	if pubAddr != "" {
		if err := s.pub.Bind(pubAddr); err != nil {
			return fmt.Errorf("bind publisher: %w", err)
		}
		s.hbWG.Add(1)
		go s.heartbeat(s.opts.HeartbeatInterval)
	}
	if subAddr != "" {
		if err := s.sub.Connect(subAddr, topics...); err != nil {
			return fmt.Errorf("connect subscriber: %w", err)
		}
	}
	return nil
}

// Publish sends a message without blocking; failures only show in Stats.
func (s *Socket) Publish(topic, payload string) {
	s.pub.Publish(topic, payload)
}

// Publisher exposes the publishing half.
func (s *Socket) Publisher() *Publisher { return s.pub }

// Subscriber exposes the subscribing half.
func (s *Socket) Subscriber() *Subscriber { return s.sub }

// Reachable reports whether the remote publisher is currently alive.
func (s *Socket) Reachable() bool { return s.sub.Reachable() }

// SetHeartbeatInterval changes the heartbeat period at runtime.
func (s *Socket) SetHeartbeatInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.hbInterval:
	default:
	}
	select {
	case s.hbInterval <- d:
	default:
	}
}

func (s *Socket) heartbeat(interval time.Duration) {
	defer s.hbWG.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.hbStop:
			return
		case d := <-s.hbInterval:
			t.Reset(d)
			s.log.Info("heartbeat interval updated", "interval", d)
		case now := <-t.C:
			s.pub.Publish(wire.TopicHeartbeat, now.UTC().Format(time.RFC3339))
		}
	}
}

// Rebind points the subscriber at a new publisher address: it stops the
// receive loop, closes the old connection and connects again with the same
// topic filters. It fails with ErrClosed after Shutdown.
func (s *Socket) Rebind(addr string) error {
	if !ValidAddress(addr) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	s.rebindMu.Lock()
	defer s.rebindMu.Unlock()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	topics := s.sub.Topics()
	if err := s.sub.Close(); err != nil {
		return err
	}
	if err := s.sub.Connect(addr, topics...); err != nil {
		return err
	}
	s.log.Info("subscriber rebound", "addr", addr)
	return nil
}

// Shutdown stops the heartbeat and receive goroutines, waits for them and
// closes both halves.
func (s *Socket) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.hbStop)
	s.mu.Unlock()

	s.hbWG.Wait()
	s.rebindMu.Lock()
	s.sub.Close()
	s.rebindMu.Unlock()
	s.pub.Close()
}
