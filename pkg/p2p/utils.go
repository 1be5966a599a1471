package p2p

import (
	"crypto/rand"
	"fmt"
	"io"
	mrand "math/rand"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// newBasicHost creates a libp2p host listening on ip:port. A non-zero seed
// makes the peer id reproducible. Insecure disables transport encryption and
// is only meant for local testing.
func newBasicHost(ip string, listenPort int, insecure bool, randseed int64) (host.Host, error) {
	var r io.Reader
	if randseed == 0 {
		r = rand.Reader
	} else {
		r = mrand.New(mrand.NewSource(randseed))
	}

	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Secp256k1, 256, r)
	if err != nil {
		return nil, err
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%d", ip, listenPort)),
		libp2p.Identity(priv),
	}
	if insecure {
		opts = append(opts, libp2p.NoSecurity)
	} else {
		opts = append(opts, libp2p.Security(noise.ID, noise.New))
	}

	return libp2p.New(opts...)
}

// GetHostAddress returns the first full multiaddr of host, including its /p2p/ id.
func GetHostAddress(host host.Host) string {
	hostAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/p2p/%s", host.ID()))
	if err != nil {
		logrus.Errorf("Failed to create host multiaddress: %v", err)
		return ""
	}

	addrs := host.Addrs()
	if len(addrs) == 0 {
		logrus.Error("Host has no addresses")
		return ""
	}
	return addrs[0].Encapsulate(hostAddr).String()
}

// ParsePeerAddress accepts a full multiaddr ("/ip4/.../tcp/.../p2p/<id>"),
// a bare "/p2p/<id>" or a plain peer id.
func ParsePeerAddress(s string) (*peer.AddrInfo, error) {
	if id, err := peer.Decode(s); err == nil {
		return &peer.AddrInfo{ID: id}, nil
	}
	maddr, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return nil, xerrors.Errorf("invalid peer address %q: %w", s, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, xerrors.Errorf("invalid peer address %q: %w", s, err)
	}
	return info, nil
}
