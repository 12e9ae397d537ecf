package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Record is one captured transport message, stored as a JSON line.
type Record struct {
	TS      time.Time `json:"ts"`
	Topic   string    `json:"topic"`
	Payload string    `json:"payload"`
}

// Replay publishes records from r. A speed >0 scales the gaps between
// record timestamps; if speed <= 0, no artificial delay is inserted. It
// returns the number of records published.
func Replay(ctx context.Context, r io.Reader, pub Publisher, speed float64) (int, error) {
	dec := json.NewDecoder(r)
	var prev time.Time
	n := 0
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("replay record %d: %w", n+1, err)
		}
		if rec.Topic == "" {
			return n, fmt.Errorf("replay record %d: missing topic", n+1)
		}
		if !prev.IsZero() && speed > 0 {
			diff := rec.TS.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				t := time.NewTimer(diff)
				select {
				case <-ctx.Done():
					t.Stop()
					return n, ctx.Err()
				case <-t.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		pub.Publish(rec.Topic, rec.Payload)
		n++
		prev = rec.TS
	}
}

// ReplayFile opens a file and replays its records.
func ReplayFile(ctx context.Context, path string, pub Publisher, speed float64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return Replay(ctx, f, pub, speed)
}

// Recorder appends messages to w as JSON lines. It is safe for concurrent
// use; Record matches the transport's OnMessage handler signature.
type Recorder struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
	err error
}

// NewRecorder writes records to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{enc: json.NewEncoder(w), now: time.Now}
}

// Record writes one message. The first write error is kept and later
// records are skipped.
func (r *Recorder) Record(topic, payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = r.enc.Encode(Record{TS: r.now().UTC(), Topic: topic, Payload: payload})
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
