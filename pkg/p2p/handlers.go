package p2p

import (
	"context"
	"encoding/json"
	"io"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/sirupsen/logrus"

	"p2pStorageAudit/pkg/protocol"
)

// MaxMessageSize caps one decoded request or reply.
const MaxMessageSize = 1 << 30

// Handler is the provider side of the audit protocols.
type Handler interface {
	HandlePublicKey(ctx context.Context, msg *protocol.PublicKey) (*protocol.Ack, error)
	HandleOutsourcing(ctx context.Context, msg *protocol.Outsourcing) (*protocol.Ack, error)
	HandleChallenge(ctx context.Context, msg *protocol.Challenge) (*protocol.ChallengeResponse, error)
}

// RegisterHandlers serves the three audit protocols with h. A handler error
// is sent back as a negative reply, the stream itself stays healthy.
func (p *P2PService) RegisterHandlers(h Handler) {
	p.Host.SetStreamHandler(protocol.ProtocolFor(protocol.KindPublicKey), func(s network.Stream) {
		serve(p.Ctx, s, h.HandlePublicKey, func(err error) any {
			return &protocol.Ack{Error: err.Error()}
		})
	})
	p.Host.SetStreamHandler(protocol.ProtocolFor(protocol.KindOutsourcing), func(s network.Stream) {
		serve(p.Ctx, s, h.HandleOutsourcing, func(err error) any {
			return &protocol.Ack{Error: err.Error()}
		})
	})
	p.Host.SetStreamHandler(protocol.ProtocolFor(protocol.KindChallenge), func(s network.Stream) {
		serve(p.Ctx, s, h.HandleChallenge, func(err error) any {
			return &protocol.ChallengeResponse{Error: err.Error()}
		})
	})
	logrus.Infof("Registered audit handlers on %s", p.Host.ID())
}

func serve[Req, Resp any](
	ctx context.Context,
	s network.Stream,
	handle func(context.Context, *Req) (*Resp, error),
	negative func(error) any,
) {
	defer s.Close()
	remote := s.Conn().RemotePeer()
	proto := s.Protocol()
	logrus.Debugf("Received %s request from peer %s", proto, remote)

	if ctx.Err() != nil {
		logrus.Warnf("Dropping %s request from %s: service shutting down", proto, remote)
		_ = s.Reset()
		return
	}

	var req Req
	if err := json.NewDecoder(io.LimitReader(s, MaxMessageSize)).Decode(&req); err != nil {
		logrus.Errorf("Invalid %s request from %s: %v", proto, remote, err)
		reply(s, negative(err))
		return
	}

	resp, err := handle(ctx, &req)
	if err != nil {
		logrus.Warnf("%s request from %s failed: %v", proto, remote, err)
		reply(s, negative(err))
		return
	}
	reply(s, resp)
}

func reply(s network.Stream, msg any) {
	if err := json.NewEncoder(s).Encode(msg); err != nil {
		logrus.Errorf("Send reply to %s failed: %v", s.Conn().RemotePeer(), err)
		_ = s.Reset()
	}
}
