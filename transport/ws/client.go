package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/replicate/transport"
	"pkg.world.dev/world-engine/replicate/types"
)

const welcomeTimeout = 10 * time.Second

// Client is the transport of a peer connected to the authority's hub.
type Client struct {
	conn   *websocket.Conn
	sink   transport.Sink
	peer   types.PeerID
	logger zerolog.Logger

	writeMux sync.Mutex
	done     chan struct{}
}

var _ transport.Transport = (*Client)(nil)

// Dial connects to the hub at url and waits for the hub to assign a peer id.
func Dial(ctx context.Context, url string, sink transport.Sink) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to dial %s", url)
	}

	if err := conn.SetReadDeadline(time.Now().Add(welcomeTimeout)); err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "")
	}
	_, bz, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "no welcome from hub")
	}
	welcome, err := unmarshalFrame(bz)
	if err != nil || welcome.Control != controlWelcome {
		_ = conn.Close()
		return nil, eris.Wrap(ErrBadFrame, "expected a welcome frame")
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "")
	}

	c := &Client{
		conn:   conn,
		sink:   sink,
		peer:   welcome.Peer,
		logger: log.Logger.With().Int32("peer", int32(welcome.Peer)).Logger(),
		done:   make(chan struct{}),
	}
	sink.PeerConnected(types.AuthorityPeerID)
	go c.readLoop()
	return c, nil
}

func (c *Client) LocalPeer() types.PeerID {
	return c.peer
}

func (c *Client) Send(to types.PeerID, payload []byte) error {
	return c.write(frame{From: c.peer, To: to, Payload: payload})
}

func (c *Client) Broadcast(payload []byte) error {
	return c.write(frame{From: c.peer, To: types.Broadcast, Payload: payload})
}

func (c *Client) write(f frame) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	c.writeMux.Lock()
	defer c.writeMux.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return eris.Wrap(err, "")
	}
	return eris.Wrap(c.conn.WriteMessage(websocket.BinaryMessage, f.marshal()), "")
}

// Done is closed once the connection to the hub is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.writeMux.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMux.Unlock()
	err := c.conn.Close()
	<-c.done
	return eris.Wrap(err, "")
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, bz, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("connection to hub lost")
			c.sink.ConnectionLost()
			return
		}
		f, err := unmarshalFrame(bz)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		switch f.Control {
		case controlPeerJoined:
			c.sink.PeerConnected(f.Peer)
		case controlPeerLeft:
			c.sink.PeerDisconnected(f.Peer)
		case controlData:
			c.sink.Receive(f.From, f.Payload)
		case controlWelcome:
		}
	}
}
