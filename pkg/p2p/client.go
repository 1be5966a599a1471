package p2p

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/protocol"
)

// Client sends audit messages to one storage provider, one stream per request.
type Client struct {
	svc      *P2PService
	provider peer.ID
	timeout  time.Duration
}

// NewClient returns a client for provider. The provider's addresses must
// already be known to the host, see Resolve.
func NewClient(svc *P2PService, provider peer.ID) *Client {
	return &Client{
		svc:      svc,
		provider: provider,
		timeout:  svc.Config.RequestTimeout,
	}
}

func (c *Client) Provider() peer.ID { return c.provider }

func (c *Client) SendPublicKey(ctx context.Context, msg *protocol.PublicKey) (*protocol.Ack, error) {
	var ack protocol.Ack
	if err := c.roundTrip(ctx, protocol.KindPublicKey, msg, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (c *Client) Outsource(ctx context.Context, msg *protocol.Outsourcing) (*protocol.Ack, error) {
	var ack protocol.Ack
	if err := c.roundTrip(ctx, protocol.KindOutsourcing, msg, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (c *Client) Challenge(ctx context.Context, msg *protocol.Challenge) (*protocol.ChallengeResponse, error) {
	var resp protocol.ChallengeResponse
	if err := c.roundTrip(ctx, protocol.KindChallenge, msg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// roundTrip writes req, half-closes the stream and decodes exactly one reply.
func (c *Client) roundTrip(ctx context.Context, kind protocol.Kind, req, resp any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	s, err := c.svc.Host.NewStream(ctx, c.provider, protocol.ProtocolFor(kind))
	if err != nil {
		return xerrors.Errorf("open %s stream to %s: %v: %w", kind, c.provider, err, ErrNetwork)
	}
	defer s.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}

	if err := json.NewEncoder(s).Encode(req); err != nil {
		_ = s.Reset()
		return xerrors.Errorf("send %s: %v: %w", kind, err, ErrNetwork)
	}
	if err := s.CloseWrite(); err != nil {
		_ = s.Reset()
		return xerrors.Errorf("close %s request: %v: %w", kind, err, ErrNetwork)
	}

	if err := json.NewDecoder(io.LimitReader(s, MaxMessageSize)).Decode(resp); err != nil {
		_ = s.Reset()
		return xerrors.Errorf("read %s reply: %v: %w", kind, err, ErrNetwork)
	}
	logrus.Debugf("%s exchange with %s complete", kind, c.provider)
	return nil
}
