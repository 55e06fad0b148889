package ws

import (
	"github.com/rotisserie/eris"
	"google.golang.org/protobuf/encoding/protowire"

	"pkg.world.dev/world-engine/replicate/types"
)

var ErrBadFrame = eris.New("bad websocket frame")

type control uint8

const (
	controlData control = iota
	// controlWelcome tells a new peer the id the hub assigned to it.
	controlWelcome
	controlPeerJoined
	controlPeerLeft
)

// frame is the unit exchanged over a websocket. The hub overwrites From with the id of the connection a frame arrived
// on, so a peer cannot claim to be someone else. To is Broadcast to address every peer.
type frame struct {
	Control control
	From    types.PeerID
	To      types.PeerID
	// Peer is the subject of a control frame.
	Peer    types.PeerID
	Payload []byte
}

const (
	fieldControl protowire.Number = 1
	fieldFrom    protowire.Number = 2
	fieldTo      protowire.Number = 3
	fieldPeer    protowire.Number = 4
	fieldPayload protowire.Number = 5
)

func (f frame) marshal() []byte {
	b := protowire.AppendTag(nil, fieldControl, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Control))
	b = protowire.AppendTag(b, fieldFrom, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(f.From)))
	b = protowire.AppendTag(b, fieldTo, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(f.To)))
	b = protowire.AppendTag(b, fieldPeer, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(f.Peer)))
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	return b
}

func unmarshalFrame(b []byte) (frame, error) {
	var f frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, eris.Wrap(ErrBadFrame, protowire.ParseError(n).Error())
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType && num >= fieldControl && num <= fieldPeer:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return f, eris.Wrap(ErrBadFrame, protowire.ParseError(m).Error())
			}
			switch num {
			case fieldControl:
				f.Control = control(v)
			case fieldFrom:
				f.From = types.PeerID(protowire.DecodeZigZag(v))
			case fieldTo:
				f.To = types.PeerID(protowire.DecodeZigZag(v))
			case fieldPeer:
				f.Peer = types.PeerID(protowire.DecodeZigZag(v))
			}
			n = m
		case num == fieldPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return f, eris.Wrap(ErrBadFrame, protowire.ParseError(m).Error())
			}
			f.Payload = append([]byte(nil), v...)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, eris.Wrap(ErrBadFrame, protowire.ParseError(n).Error())
			}
		}
		b = b[n:]
	}
	if f.Control > controlPeerLeft {
		return f, eris.Wrapf(ErrBadFrame, "unknown control %d", f.Control)
	}
	return f, nil
}
