// Package ws carries replication traffic over websockets. The authority runs a Hub behind its fiber server; every
// other peer dials it with a Client. Peers never talk to each other directly: the hub relays broadcasts and unicasts
// and stamps each relayed frame with the id of the connection it came from.
package ws

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/replicate/transport"
	"pkg.world.dev/world-engine/replicate/types"
)

const writeDeadline = 5 * time.Second

type hubConn struct {
	peer types.PeerID
	ws   *websocket.Conn
	mux  sync.Mutex
}

func (c *hubConn) write(f frame) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return eris.Wrap(err, "")
	}
	return eris.Wrap(c.ws.WriteMessage(websocket.BinaryMessage, f.marshal()), "")
}

// Hub is the authority's transport.
type Hub struct {
	sink   transport.Sink
	logger zerolog.Logger

	mux    sync.Mutex
	conns  map[types.PeerID]*hubConn
	order  []types.PeerID
	nextID types.PeerID
	closed bool
}

var (
	_ transport.Transport    = (*Hub)(nil)
	_ transport.Disconnector = (*Hub)(nil)
)

func NewHub(sink transport.Sink) *Hub {
	return &Hub{
		sink:   sink,
		logger: log.Logger.With().Str("component", "hub").Logger(),
		conns:  map[types.PeerID]*hubConn{},
		nextID: types.AuthorityPeerID + 1,
	}
}

func (h *Hub) LocalPeer() types.PeerID {
	return types.AuthorityPeerID
}

func (h *Hub) ConnectionAmount() int {
	h.mux.Lock()
	defer h.mux.Unlock()
	return len(h.conns)
}

func (h *Hub) Send(to types.PeerID, payload []byte) error {
	h.mux.Lock()
	c, ok := h.conns[to]
	closed := h.closed
	h.mux.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if !ok {
		return eris.Wrapf(transport.ErrUnknownPeer, "peer %d", to)
	}
	return h.deliver(c, frame{From: types.AuthorityPeerID, To: to, Payload: payload})
}

func (h *Hub) Broadcast(payload []byte) error {
	h.relay(types.AuthorityPeerID, frame{From: types.AuthorityPeerID, To: types.Broadcast, Payload: payload})
	return nil
}

// relay writes f to every connected peer except skip.
func (h *Hub) relay(skip types.PeerID, f frame) {
	for _, c := range h.snapshot() {
		if c.peer == skip {
			continue
		}
		_ = h.deliver(c, f)
	}
}

// deliver writes f and drops the connection when the write fails.
func (h *Hub) deliver(c *hubConn, f frame) error {
	if err := c.write(f); err != nil {
		h.logger.Error().Err(err).Int32("peer", int32(c.peer)).Msg("write failed, dropping peer")
		_ = c.ws.Close()
		return err
	}
	return nil
}

func (h *Hub) snapshot() []*hubConn {
	h.mux.Lock()
	defer h.mux.Unlock()
	conns := make([]*hubConn, 0, len(h.order))
	for _, id := range h.order {
		conns = append(conns, h.conns[id])
	}
	return conns
}

func (h *Hub) register(ws *websocket.Conn) (*hubConn, []types.PeerID, error) {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.closed {
		return nil, nil, transport.ErrClosed
	}
	c := &hubConn{peer: h.nextID, ws: ws}
	h.nextID++
	existing := append([]types.PeerID(nil), h.order...)
	h.conns[c.peer] = c
	h.order = append(h.order, c.peer)
	return c, existing, nil
}

func (h *Hub) unregister(c *hubConn) bool {
	h.mux.Lock()
	defer h.mux.Unlock()
	if _, ok := h.conns[c.peer]; !ok {
		return false
	}
	delete(h.conns, c.peer)
	for i, id := range h.order {
		if id == c.peer {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return true
}

// DisconnectPeer closes a peer's connection. Its read loop then unregisters it.
func (h *Hub) DisconnectPeer(peer types.PeerID) error {
	h.mux.Lock()
	c, ok := h.conns[peer]
	h.mux.Unlock()
	if !ok {
		return eris.Wrapf(transport.ErrUnknownPeer, "peer %d", peer)
	}
	return eris.Wrap(c.ws.Close(), "")
}

// Close drops every peer and refuses new connections.
func (h *Hub) Close() error {
	h.mux.Lock()
	h.closed = true
	h.mux.Unlock()
	for _, c := range h.snapshot() {
		if err := c.ws.Close(); err != nil {
			h.logger.Debug().Err(err).Int32("peer", int32(c.peer)).Msg("close failed")
		}
	}
	return nil
}

// Upgrader rejects requests that are not websocket upgrades.
func Upgrader(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return eris.Wrap(c.Next(), "")
	}
	return fiber.ErrUpgradeRequired
}

// Handler returns the fiber handler serving peer connections.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *Hub) serve(ws *websocket.Conn) {
	c, existing, err := h.register(ws)
	if err != nil {
		h.logger.Warn().Err(err).Msg("refused peer connection")
		return
	}
	logger := h.logger.With().Int32("peer", int32(c.peer)).Logger()

	if err := c.write(frame{Control: controlWelcome, From: types.AuthorityPeerID, To: c.peer, Peer: c.peer}); err != nil {
		logger.Error().Err(err).Msg("failed to welcome peer")
		h.unregister(c)
		return
	}
	for _, other := range existing {
		_ = c.write(frame{Control: controlPeerJoined, From: types.AuthorityPeerID, Peer: other})
	}
	h.relay(c.peer, frame{Control: controlPeerJoined, From: types.AuthorityPeerID, Peer: c.peer})
	h.sink.PeerConnected(c.peer)
	logger.Info().Msg("peer connected")

	for {
		_, bz, err := ws.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("websocket read failed")
			break
		}
		f, err := unmarshalFrame(bz)
		if err != nil || f.Control != controlData {
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		f.From = c.peer
		switch f.To {
		case types.AuthorityPeerID:
			h.sink.Receive(c.peer, f.Payload)
		case types.Broadcast:
			h.sink.Receive(c.peer, f.Payload)
			h.relay(c.peer, f)
		default:
			h.mux.Lock()
			target, ok := h.conns[f.To]
			h.mux.Unlock()
			if ok {
				_ = h.deliver(target, f)
			}
		}
	}

	if h.unregister(c) {
		h.relay(c.peer, frame{Control: controlPeerLeft, From: types.AuthorityPeerID, Peer: c.peer})
		h.sink.PeerDisconnected(c.peer)
		logger.Info().Msg("peer disconnected")
	}
}
