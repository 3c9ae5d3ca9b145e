package server

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/parley/internal/live"
)

// defaultWriteTimeout bounds a single delivery to a slow peer.
const defaultWriteTimeout = 5 * time.Second

// wsPeer delivers session output over a WebSocket: model audio as binary
// messages carrying raw PCM, everything else as JSON text messages.
type wsPeer struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

var _ live.Peer = (*wsPeer)(nil)

func newPeer(conn *websocket.Conn, writeTimeout time.Duration) *wsPeer {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &wsPeer{conn: conn, writeTimeout: writeTimeout}
}

// SendAudio implements [live.Peer].
func (p *wsPeer) SendAudio(ctx context.Context, pcm []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	if err := p.conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		return fmt.Errorf("server: write audio: %w", err)
	}
	return nil
}

// SendControl implements [live.Peer].
func (p *wsPeer) SendControl(ctx context.Context, msg live.ControlMessage) error {
	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, p.conn, msg); err != nil {
		return fmt.Errorf("server: write %s: %w", msg.Type, err)
	}
	return nil
}
