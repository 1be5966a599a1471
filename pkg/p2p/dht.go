package p2p

import (
	"context"
	"fmt"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// providerKey is where a storage provider publishes its address.
const providerKey = "storage-provider"

// newDHT starts a DHT server on host and connects the bootstrap peers.
func newDHT(ctx context.Context, host host.Host, config P2PConfig) (*dht.IpfsDHT, error) {
	opts := []dht.Option{
		dht.ProtocolPrefix(protocol.ID(config.ProtocolPrefix)),
		dht.NamespacedValidator(config.NameSpace, config.Validator),
		dht.Mode(dht.ModeServer),
	}
	if !config.EnableAutoRefresh {
		opts = append(opts, dht.DisableAutoRefresh())
	}

	kdht, err := dht.New(ctx, host, opts...)
	if err != nil {
		return nil, err
	}
	if err = kdht.Bootstrap(ctx); err != nil {
		return nil, err
	}
	logrus.Infoln("Started DHT node. MultiAddr: ", GetHostAddress(host))

	if len(config.BootstrapPeers) == 0 {
		return kdht, nil
	}

	successCount := 0
	for _, peerAddr := range config.BootstrapPeers {
		peerinfo, err := peer.AddrInfoFromP2pAddr(peerAddr)
		if err != nil {
			logrus.Warnf("Invalid bootstrap peer address %q: %v", peerAddr, err)
			continue
		}
		if err := host.Connect(ctx, *peerinfo); err != nil {
			logrus.Warnf("Error while connecting to bootstrap node %q: %v", peerinfo, err)
			continue
		}
		successCount++
		logrus.Infof("Connection established with bootstrap node: %q", peerinfo)

		if added, err := kdht.RoutingTable().TryAddPeer(peerinfo.ID, true, true); err != nil {
			logrus.Warnf("Failed to add peer %q to routing table: %v", peerinfo.ID, err)
		} else if added {
			logrus.Debugf("Peer %q added to routing table", peerinfo.ID)
		}
	}

	if successCount == 0 {
		kdht.Close()
		return nil, xerrors.Errorf("failed to connect to any bootstrap nodes (attempted %d): %w",
			len(config.BootstrapPeers), ErrNetwork)
	}
	logrus.Infof("Successfully connected to %d/%d bootstrap nodes", successCount, len(config.BootstrapPeers))
	return kdht, nil
}

// Put stores a value under the service namespace.
func (d *P2PService) Put(ctx context.Context, key string, value []byte) error {
	key = "/" + d.Config.NameSpace + "/" + key
	if err := d.DHT.PutValue(ctx, key, value); err != nil {
		return xerrors.Errorf("failed to put value: %v: %w", err, ErrNetwork)
	}
	logrus.Infof("Stored key-value pair: %s -> %s", key, value)
	return nil
}

// Get reads a value stored under the service namespace.
func (d *P2PService) Get(ctx context.Context, key string) ([]byte, error) {
	key = "/" + d.Config.NameSpace + "/" + key
	value, err := d.DHT.GetValue(ctx, key)
	if err != nil {
		return nil, xerrors.Errorf("failed to get value: %v: %w", err, ErrNetwork)
	}
	logrus.Debugf("Retrieved value for key %s: %s", key, value)
	return value, nil
}

// AnnounceProvider publishes this host's address as the storage provider.
func (d *P2PService) AnnounceProvider(ctx context.Context) error {
	return d.Put(ctx, providerKey, []byte(GetHostAddress(d.Host)))
}

// DiscoverProvider reads the storage provider address published in the DHT.
func (d *P2PService) DiscoverProvider(ctx context.Context) (*peer.AddrInfo, error) {
	value, err := d.Get(ctx, providerKey)
	if err != nil {
		return nil, err
	}
	return ParsePeerAddress(string(value))
}

// Resolve connects to the peer at addr. An address without transport parts
// is looked up in the DHT by peer id.
func (d *P2PService) Resolve(ctx context.Context, addr string) (peer.ID, error) {
	info, err := ParsePeerAddress(addr)
	if err != nil {
		return "", err
	}
	if len(info.Addrs) == 0 {
		found, err := d.DHT.FindPeer(ctx, info.ID)
		if err != nil {
			return "", xerrors.Errorf("find peer %s: %v: %w", info.ID, err, ErrNetwork)
		}
		info = &found
	}
	if err := d.Host.Connect(ctx, *info); err != nil {
		return "", xerrors.Errorf("connect %s: %v: %w", info.ID, err, ErrNetwork)
	}
	logrus.Infof("Connected to provider %s", info.ID)
	return info.ID, nil
}

func (d *P2PService) String() string {
	return fmt.Sprintf("P2PService(%s)", d.Host.ID())
}
