package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// EquitySample is one streamed equity reading
type EquitySample struct {
	Timestamp time.Time `json:"ts"`
	Equity    float64   `json:"equity"`
}

// EquityFeed streams account equity samples over a websocket and pushes them
// into a sink (the risk monitor). Reconnects with capped backoff; cancelled
// contexts stop the feed cleanly.
type EquityFeed struct {
	url    string
	dialer *websocket.Dialer
}

// NewEquityFeed creates a feed for the given websocket URL
func NewEquityFeed(url string) *EquityFeed {
	return &EquityFeed{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run consumes the feed until ctx is cancelled, invoking sink for every
// sample. Connection failures back off and retry; they never propagate.
func (f *EquityFeed) Run(ctx context.Context, sink func(EquitySample)) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
		if err != nil {
			log.Warn().Err(err).Str("url", f.url).Dur("backoff", backoff).Msg("Equity feed dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		log.Info().Str("url", f.url).Msg("Equity feed connected")

		f.consume(ctx, conn, sink)
		conn.Close()
	}
}

func (f *EquityFeed) consume(ctx context.Context, conn *websocket.Conn, sink func(EquitySample)) {
	// Unblock ReadMessage when the context is cancelled
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("Equity feed read failed, reconnecting")
			}
			return
		}

		var sample EquitySample
		if err := json.Unmarshal(data, &sample); err != nil {
			log.Debug().Err(err).Msg("Equity feed message discarded")
			continue
		}
		if sample.Timestamp.IsZero() {
			sample.Timestamp = time.Now()
		}
		sink(sample)
	}
}
