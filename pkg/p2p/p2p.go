// Package p2p carries audit messages between a data owner and a storage provider over libp2p
//
// Core features:
//   - Host: a libp2p host with a secp256k1 peer identity
//   - DHT: Kademlia routing, used to resolve the provider by peer id and to
//     publish the provider's address under a well-known key
//   - Stream protocols: one request/reply protocol per audit message kind
//   - Client: the owner side transport, one stream per message
//
// Main components:
//   - P2PService: host, DHT and lifecycle
//   - Handler: what the provider plugs into the stream protocols
//   - Client: sends PUBLIC_KEY, OUTSOURCING and CHALLENGE to one provider
//
// Usage:
//
//	config := p2p.NewP2PConfig()
//	config.Port = 0 // random port
//
//	service, err := p2p.NewP2PService(ctx, config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer service.Shutdown()
//	service.RegisterHandlers(provider)
//
// Notes:
//   - Every transport failure is wrapped with ErrNetwork
//   - RequestTimeout 0 means a request waits for its reply indefinitely
package p2p

import (
	"context"
	"errors"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	record "github.com/libp2p/go-libp2p-record"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// ErrNetwork marks failures to reach the peer or to exchange a message with it.
var ErrNetwork = errors.New("p2p: network failure")

var defaultPrefix = "/storageAudit"

type blankValidator struct{}

func (blankValidator) Validate(_ string, _ []byte) error        { return nil }
func (blankValidator) Select(_ string, _ [][]byte) (int, error) { return 0, nil }

type P2PService struct {
	Host   host.Host
	DHT    *dht.IpfsDHT
	Config *P2PConfig
	Ctx    context.Context
	Cancel context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

type P2PConfig struct {
	Port              int
	Insecure          bool
	Seed              int64
	BootstrapPeers    []multiaddr.Multiaddr
	ProtocolPrefix    string
	EnableAutoRefresh bool
	NameSpace         string
	Validator         record.Validator
	// RequestTimeout bounds one request/reply exchange, 0 disables it.
	RequestTimeout    time.Duration
	// LoopbackOnly listens on 127.0.0.1 instead of every interface.
	LoopbackOnly      bool
}

// NewP2PConfig returns the default configuration.
func NewP2PConfig() P2PConfig {
	return P2PConfig{
		// 0 picks a random free port
		Port:              0,
		Insecure:          false,
		Seed:              0,
		ProtocolPrefix:    defaultPrefix,
		EnableAutoRefresh: true,
		NameSpace:         "audit",
		Validator:         blankValidator{},
		RequestTimeout:    0,
	}
}

// NewP2PService creates the host, starts the DHT and connects to the bootstrap peers.
func NewP2PService(ctx context.Context, config P2PConfig) (*P2PService, error) {
	listen := "0.0.0.0"
	if config.LoopbackOnly {
		listen = "127.0.0.1"
	}
	h, err := newBasicHost(listen, config.Port, config.Insecure, config.Seed)
	if err != nil {
		return nil, xerrors.Errorf("failed to create host: %w", err)
	}

	kdht, err := newDHT(ctx, h, config)
	if err != nil {
		h.Close()
		return nil, xerrors.Errorf("failed to create DHT instance: %w", err)
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	return &P2PService{
		Host:   h,
		DHT:    kdht,
		Config: &config,
		Ctx:    serviceCtx,
		Cancel: cancel,
	}, nil
}

func (p *P2PService) GetMaddr() []multiaddr.Multiaddr {
	return p.Host.Addrs()
}

// Shutdown cancels running handlers and closes the DHT and the host.
// Calls after the first return the first result.
func (p *P2PService) Shutdown() error {
	p.shutdownOnce.Do(func() {
		logrus.Info("Shutting down P2P service...")

		if p.Cancel != nil {
			p.Cancel()
		}
		if p.DHT != nil {
			if err := p.DHT.Close(); err != nil {
				logrus.Warnf("Error closing DHT: %v", err)
			}
		}
		if p.Host != nil {
			if err := p.Host.Close(); err != nil {
				logrus.Errorf("Error closing host: %v", err)
				p.shutdownErr = err
				return
			}
		}
		logrus.Info("P2P service shutdown complete")
	})
	return p.shutdownErr
}
