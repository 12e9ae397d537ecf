package transport

import (
	"log/slog"
	"time"
)

// Options tunes publishers, subscribers and sockets. Zero fields take the
// defaults below.
type Options struct {
	RetryBackoff      time.Duration // wait between failed bind/connect attempts
	PollInterval      time.Duration // receive loop sleep when no message is ready
	SendBuffer        int           // per-peer outbound queue length
	PeerTimeout       time.Duration // silence after which a peer counts as unreachable
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	Log               *slog.Logger
}

const (
	DefaultRetryBackoff      = time.Second
	DefaultPollInterval      = 10 * time.Millisecond
	DefaultSendBuffer        = 64
	DefaultPeerTimeout       = 5 * time.Second
	DefaultHeartbeatInterval = time.Second
	DefaultWriteTimeout      = 2 * time.Second
)

func (o Options) withDefaults() Options {
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.PeerTimeout <= 0 {
		o.PeerTimeout = DefaultPeerTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

// sleep waits for d or until stop is closed; it reports false on stop.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
