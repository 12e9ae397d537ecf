package transport

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"uavnetsim/internal/wire"
)

// Dispatcher receives decoded messages from a subscriber's receive loop. It
// is called on the receive goroutine and must hand the message off without
// blocking for long.
type Dispatcher interface {
	Dispatch(topic, payload string)
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(topic, payload string)

// Dispatch calls f(topic, payload).
func (f DispatchFunc) Dispatch(topic, payload string) { f(topic, payload) }

// SubscriberStats counts receive outcomes.
type SubscriberStats struct {
	Received   uint64 `json:"received"`
	Filtered   uint64 `json:"filtered"`
	Malformed  uint64 `json:"malformed"`
	Reconnects uint64 `json:"reconnects"`
	Connected  bool   `json:"connected"`
}

// link is one live connection plus the goroutine pumping its frames into an
// inbox the receive loop can poll.
type link struct {
	conn  *websocket.Conn
	inbox chan []byte
	errc  chan error
	quit  chan struct{}
	done  chan struct{}
}

// Subscriber is the connecting side of the pub/sub pair. It owns one receive
// goroutine that polls for frames, applies prefix topic filters and hands
// matching messages to its Dispatcher.
type Subscriber struct {
	opts     Options
	log      *slog.Logger
	dispatch Dispatcher
	dialer   *websocket.Dialer

	mu      sync.Mutex
	addr    string
	url     string
	filters []string
	link    *link
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	lastSeen   atomic.Int64
	received   atomic.Uint64
	filtered   atomic.Uint64
	malformed  atomic.Uint64
	reconnects atomic.Uint64
}

// NewSubscriber creates a subscriber handing messages to d.
func NewSubscriber(d Dispatcher, opts Options) *Subscriber {
	opts = opts.withDefaults()
	return &Subscriber{
		opts:     opts,
		log:      opts.Log.With("component", "subscriber"),
		dispatch: d,
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.RetryBackoff * 2},
	}
}

// Connect starts the receive loop against the publisher at addr. Messages
// whose topic starts with one of topics are dispatched; "" matches every
// topic and an empty list matches nothing. Dial failures are logged and
// retried after RetryBackoff.
func (s *Subscriber) Connect(addr string, topics ...string) error {
	url, err := dialURL(addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("transport: subscriber already connected")
	}
	s.addr, s.url = addr, url
	s.filters = append([]string(nil), topics...)
	s.running = true
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stop)
	return nil
}

// Addr returns the endpoint passed to the last Connect.
func (s *Subscriber) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Topics returns the active topic filters.
func (s *Subscriber) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.filters...)
}

func (s *Subscriber) loop(stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}

		l := s.current()
		if l == nil {
			if s.connect(stop) == nil && !sleep(stop, s.opts.RetryBackoff) {
				return
			}
			continue
		}

		select {
		case raw := <-l.inbox:
			s.handle(raw)
		case err := <-l.errc:
			s.log.Warn("subscriber connection lost, reconnecting", "addr", s.Addr(), "err", err)
			s.dropLink(l)
		default:
			if !sleep(stop, s.opts.PollInterval) {
				return
			}
		}
	}
}

func (s *Subscriber) current() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func (s *Subscriber) connect(stop <-chan struct{}) *link {
	s.mu.Lock()
	url := s.url
	s.mu.Unlock()

	conn, _, err := s.dialer.Dial(url, nil)
	if err != nil {
		s.log.Error("connect failed, retrying", "url", url, "err", err, "backoff", s.opts.RetryBackoff)
		return nil
	}
	l := &link{
		conn:  conn,
		inbox: make(chan []byte, s.opts.SendBuffer),
		errc:  make(chan error, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	select {
	case <-stop:
		s.mu.Unlock()
		conn.Close()
		return nil
	default:
	}
	s.link = l
	s.mu.Unlock()

	s.lastSeen.Store(time.Now().UnixNano())
	go s.pump(l)
	s.log.Info("subscriber connected", "url", url)
	return l
}

// pump moves frames from the connection into the inbox. It exits on read
// error or when the link is torn down.
func (s *Subscriber) pump(l *link) {
	defer close(l.done)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case l.errc <- err:
			default:
			}
			return
		}
		select {
		case l.inbox <- data:
		case <-l.quit:
			return
		}
	}
}

func (s *Subscriber) dropLink(l *link) {
	s.mu.Lock()
	close(l.quit)
	l.conn.Close()
	s.mu.Unlock()
	<-l.done
	s.mu.Lock()
	if s.link == l {
		s.link = nil
		s.reconnects.Add(1)
	}
	s.mu.Unlock()
}

func (s *Subscriber) handle(raw []byte) {
	s.lastSeen.Store(time.Now().UnixNano())
	msg, err := wire.Decode(string(raw))
	if err != nil {
		s.malformed.Add(1)
		s.log.Warn("dropping malformed frame", "err", err, "size", len(raw))
		return
	}
	s.mu.Lock()
	ok := wire.Matches(msg.Topic, s.filters)
	s.mu.Unlock()
	if !ok {
		s.filtered.Add(1)
		return
	}
	s.received.Add(1)
	if s.dispatch != nil {
		s.dispatch.Dispatch(msg.Topic, msg.Payload)
	}
}

// Connected reports whether a connection to the publisher is open.
func (s *Subscriber) Connected() bool {
	return s.current() != nil
}

// Reachable reports whether the publisher is connected and has sent
// something, or the connection was opened, within PeerTimeout.
func (s *Subscriber) Reachable() bool {
	if !s.Connected() {
		return false
	}
	last := time.Unix(0, s.lastSeen.Load())
	return time.Since(last) < s.opts.PeerTimeout
}

// Stats returns a snapshot of receive counters.
func (s *Subscriber) Stats() SubscriberStats {
	return SubscriberStats{
		Received:   s.received.Load(),
		Filtered:   s.filtered.Load(),
		Malformed:  s.malformed.Load(),
		Reconnects: s.reconnects.Load(),
		Connected:  s.Connected(),
	}
}

// Close stops the receive loop, waits for it to exit and then closes the
// connection. A closed subscriber can be connected again.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	l := s.link
	s.link = nil
	if l != nil {
		close(l.quit)
		l.conn.Close()
	}
	s.mu.Unlock()
	if l != nil {
		<-l.done
	}
	s.log.Info("subscriber closed")
	return nil
}
