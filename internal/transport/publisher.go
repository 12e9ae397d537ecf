package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"uavnetsim/internal/wire"
)

// PublisherStats counts publish outcomes. Dropped is incremented once per
// message that found no peer and once per peer whose buffer was full.
type PublisherStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Peers   int    `json:"peers"`
}

type peer struct {
	id   uint64
	conn *websocket.Conn
	out  chan []byte
	quit chan struct{}
	log  *slog.Logger
}

// Publisher is the binding side of the pub/sub pair. Every WebSocket client
// that connects becomes a subscriber and receives all published messages;
// topic filtering happens on the subscriber.
type Publisher struct {
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	addr     string
	srv      *http.Server
	ln       net.Listener
	peers    map[uint64]*peer
	nextPeer uint64
	started  bool
	closed   bool
	stop     chan struct{}
	ready    chan struct{}
	wg       sync.WaitGroup

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewPublisher creates an unbound publisher.
func NewPublisher(opts Options) *Publisher {
	opts = opts.withDefaults()
	return &Publisher{
		opts: opts,
		log:  opts.Log.With("component", "publisher"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers: make(map[uint64]*peer),
		stop:  make(chan struct{}),
		ready: make(chan struct{}),
	}
}

// Bind starts listening on addr ("tcp://*:5555", "ws://127.0.0.1:5555").
// Listen failures are logged and retried after RetryBackoff in the
// background; only a malformed address is reported.
func (p *Publisher) Bind(addr string) error {
	la, err := listenAddr(addr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.started {
		return errors.New("transport: publisher already bound")
	}
	p.started = true
	p.addr = addr
	p.wg.Add(1)
	go p.serve(la)
	return nil
}

func (p *Publisher) serve(la string) {
	defer p.wg.Done()
	for {
		ln, err := net.Listen("tcp", la)
		if err != nil {
			p.log.Error("bind failed, retrying", "addr", la, "err", err, "backoff", p.opts.RetryBackoff)
			if !sleep(p.stop, p.opts.RetryBackoff) {
				return
			}
			continue
		}
		mux := http.NewServeMux()
		mux.HandleFunc(Path, p.handle)
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			ln.Close()
			return
		}
		p.srv, p.ln = srv, ln
		close(p.ready)
		p.mu.Unlock()

		p.log.Info("publisher bound", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error("publisher server stopped", "err", err)
		}
		return
	}
}

// Ready is closed once the listener is up.
func (p *Publisher) Ready() <-chan struct{} { return p.ready }

// Addr returns the bound listener address, or "" before binding succeeds.
func (p *Publisher) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr().String()
}

func (p *Publisher) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Error("failed to upgrade subscriber connection", "err", err)
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.nextPeer++
	pr := &peer{
		id:   p.nextPeer,
		conn: conn,
		out:  make(chan []byte, p.opts.SendBuffer),
		quit: make(chan struct{}),
		log:  p.log.With("peer", p.nextPeer, "remote", r.RemoteAddr),
	}
	p.peers[pr.id] = pr
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	pr.log.Info("subscriber connected")

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		p.writeLoop(pr)
	}()

	// Subscribers never send application data; reading keeps control frames
	// flowing and notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				pr.log.Debug("subscriber read ended", "err", err)
			}
			break
		}
	}

	p.mu.Lock()
	delete(p.peers, pr.id)
	p.mu.Unlock()
	close(pr.quit)
	writer.Wait()
	conn.Close()
	pr.log.Info("subscriber disconnected")
}

func (p *Publisher) writeLoop(pr *peer) {
	for {
		select {
		case <-pr.quit:
			return
		case frame := <-pr.out:
			pr.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout))
			if err := pr.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				pr.log.Warn("write to subscriber failed", "err", err)
				pr.conn.Close()
				return
			}
		}
	}
}

// Publish sends "<topic> <payload>" to every connected subscriber without
// blocking. Messages are dropped when nothing is bound, nobody is connected,
// or a subscriber's buffer is full.
func (p *Publisher) Publish(topic, payload string) {
	frame := []byte(wire.Message{Topic: topic, Payload: payload}.Encode())
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.peers) == 0 {
		p.dropped.Add(1)
		return
	}
	delivered := false
	for _, pr := range p.peers {
		select {
		case pr.out <- frame:
			delivered = true
		default:
			p.dropped.Add(1)
		}
	}
	if delivered {
		p.sent.Add(1)
	}
}

// Stats returns a snapshot of publish counters.
func (p *Publisher) Stats() PublisherStats {
	p.mu.Lock()
	n := len(p.peers)
	p.mu.Unlock()
	return PublisherStats{Sent: p.sent.Load(), Dropped: p.dropped.Load(), Peers: n}
}

// Close stops accepting subscribers, disconnects the current ones and waits
// for every publisher goroutine to exit. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	srv := p.srv
	for _, pr := range p.peers {
		pr.conn.Close()
	}
	p.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			p.log.Error("failed to shut down publisher server", "err", err)
		}
	}
	p.wg.Wait()
	p.log.Info("publisher closed")
	return nil
}
