package owner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/csp"
	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/ledger"
	"p2pStorageAudit/pkg/p2p"
	"p2pStorageAudit/pkg/protocol"
	"p2pStorageAudit/pkg/scheme"
)

// loopback hands messages straight to an in-process provider and turns
// handler failures into negative replies, as the stream handlers do.
type loopback struct {
	svc *csp.Service
}

func (l loopback) SendPublicKey(ctx context.Context, msg *protocol.PublicKey) (*protocol.Ack, error) {
	ack, err := l.svc.HandlePublicKey(ctx, msg)
	if err != nil {
		return &protocol.Ack{Error: err.Error()}, nil
	}
	return ack, nil
}

func (l loopback) Outsource(ctx context.Context, msg *protocol.Outsourcing) (*protocol.Ack, error) {
	ack, err := l.svc.HandleOutsourcing(ctx, msg)
	if err != nil {
		return &protocol.Ack{Error: err.Error()}, nil
	}
	return ack, nil
}

func (l loopback) Challenge(ctx context.Context, msg *protocol.Challenge) (*protocol.ChallengeResponse, error) {
	resp, err := l.svc.HandleChallenge(ctx, msg)
	if err != nil {
		return &protocol.ChallengeResponse{Error: err.Error()}, nil
	}
	return resp, nil
}

type failingTransport struct {
	loopback
	failOutsource bool
	failChallenge bool
}

func (f failingTransport) Outsource(ctx context.Context, msg *protocol.Outsourcing) (*protocol.Ack, error) {
	if f.failOutsource {
		return nil, xerrors.Errorf("open stream: connection refused: %w", p2p.ErrNetwork)
	}
	return f.loopback.Outsource(ctx, msg)
}

func (f failingTransport) Challenge(ctx context.Context, msg *protocol.Challenge) (*protocol.ChallengeResponse, error) {
	if f.failChallenge {
		return nil, xerrors.Errorf("read reply: stream reset: %w", p2p.ErrNetwork)
	}
	return f.loopback.Challenge(ctx, msg)
}

type fixture struct {
	owner *DataOwner
	store *file.MemoryBlockStore
	led   *ledger.Ledger
}

func newFixture(t *testing.T, v scheme.Variant, wrap func(loopback) Transport) *fixture {
	s, err := scheme.New(v, scheme.Options{MaxConcurrency: 2})
	require.NoError(t, err)
	store := file.NewMemoryBlockStore()
	led := ledger.New(ledger.NewMemoryStore(), ledger.WithVerifyOnRead(true))
	var tr Transport = loopback{svc: csp.NewService(store)}
	if wrap != nil {
		tr = wrap(loopback{svc: csp.NewService(store)})
	}
	o := New(Options{Scheme: s, Transport: tr, Ledger: led, Provider: store})
	return &fixture{owner: o, store: store, led: led}
}

func blocks(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{'b', byte('a' + i%26), byte('0' + i/26)}
	}
	return out
}

func TestRunAllVariants(t *testing.T) {
	for _, v := range scheme.Variants {
		t.Run(string(v), func(t *testing.T) {
			f := newFixture(t, v, nil)
			report, err := f.owner.Run(context.Background(), blocks(23))
			require.NoError(t, err)
			assert.True(t, report.Intact)
			assert.Equal(t, v, report.Scheme)
			assert.Equal(t, Verified, f.owner.State())

			files := f.owner.Files()
			require.Len(t, files, 1)
			assert.Equal(t, report.FileID, files[0].FileID)

			chain, err := f.led.Get(report.FileID)
			require.NoError(t, err)
			assert.Equal(t, 4, chain.Len())
			assert.Len(t, chain.Payloads(), 23)
		})
	}
}

func TestTamperedProviderCopy(t *testing.T) {
	for _, v := range scheme.Variants {
		t.Run(string(v), func(t *testing.T) {
			f := newFixture(t, v, nil)
			rec, err := f.owner.PhaseOne(context.Background(), blocks(6))
			require.NoError(t, err)

			f.store.Tamper(3, []byte("corrupted"))
			report, err := f.owner.Challenge(context.Background(), rec.FileID)
			require.NoError(t, err)
			assert.False(t, report.Intact)
			assert.Equal(t, Verified, f.owner.State())
		})
	}
}

func TestStateOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scheme.MerkleLeaf, nil)

	require.ErrorIs(t, f.owner.SendPublicKey(ctx), ErrInvalidState)
	_, err := f.owner.Outsource(ctx, blocks(2))
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = f.owner.Challenge(ctx, "file")
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, f.owner.GenerateIdentity())
	assert.Equal(t, KeyGenerated, f.owner.State())
	require.ErrorIs(t, f.owner.GenerateIdentity(), ErrInvalidState)
	_, err = f.owner.Outsource(ctx, blocks(2))
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, f.owner.SendPublicKey(ctx))
	assert.Equal(t, PublicKeySent, f.owner.State())
	_, err = f.owner.Challenge(ctx, "file")
	require.ErrorIs(t, err, ErrInvalidState)

	rec, err := f.owner.Outsource(ctx, blocks(2))
	require.NoError(t, err)
	assert.Equal(t, Outsourced, f.owner.State())

	_, err = f.owner.Challenge(ctx, "someone-elses-file")
	require.ErrorIs(t, err, ErrInvalidState)

	report, err := f.owner.Challenge(ctx, rec.FileID)
	require.NoError(t, err)
	assert.True(t, report.Intact)
}

func TestSecondFileReusesIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scheme.EncryptMerkle, nil)
	first, err := f.owner.Run(ctx, blocks(3))
	require.NoError(t, err)
	id := f.owner.Identity()

	second, err := f.owner.Run(ctx, blocks(5))
	require.NoError(t, err)
	assert.Same(t, id, f.owner.Identity())
	assert.NotEqual(t, first.FileID, second.FileID)
	assert.True(t, second.Intact)
	assert.Len(t, f.owner.Files(), 2)

	// the provider only keeps the latest file
	report, err := f.owner.Challenge(ctx, first.FileID)
	require.NoError(t, err)
	assert.False(t, report.Intact)
}

func TestOutsourceNetworkFailure(t *testing.T) {
	f := newFixture(t, scheme.PlainTag, func(l loopback) Transport {
		return failingTransport{loopback: l, failOutsource: true}
	})
	_, err := f.owner.PhaseOne(context.Background(), blocks(4))
	require.ErrorIs(t, err, p2p.ErrNetwork)
	assert.Equal(t, PublicKeySent, f.owner.State())
	assert.Empty(t, f.owner.Files())

	files, err := f.led.Files()
	require.NoError(t, err)
	assert.Empty(t, files, "ledger must not be written when outsourcing failed")
}

func TestChallengeNetworkFailure(t *testing.T) {
	f := newFixture(t, scheme.MerkleLeaf, func(l loopback) Transport {
		return failingTransport{loopback: l, failChallenge: true}
	})
	_, err := f.owner.Run(context.Background(), blocks(4))
	require.ErrorIs(t, err, p2p.ErrNetwork)
	assert.Equal(t, Challenged, f.owner.State())
}

func TestRejectedOutsourcing(t *testing.T) {
	f := newFixture(t, scheme.PlainTag, nil)
	gated := csp.NewService(f.store, csp.WithGate(csp.NewRegistrationGate()))
	f.owner.opts.Transport = loopback{svc: gated}
	require.NoError(t, f.owner.GenerateIdentity())
	// skip registration, the gated provider must refuse the file
	f.owner.state = PublicKeySent

	_, err := f.owner.Outsource(context.Background(), blocks(2))
	require.ErrorIs(t, err, ErrRejected)
	assert.Empty(t, f.owner.Files())
}

func TestEmptyFile(t *testing.T) {
	f := newFixture(t, scheme.PlainTag, nil)
	_, err := f.owner.Run(context.Background(), nil)
	require.ErrorIs(t, err, scheme.ErrEmptyFile)
}

func TestStopwatch(t *testing.T) {
	var w Stopwatch
	w.Start()
	time.Sleep(5 * time.Millisecond)
	first := w.Stop()
	assert.GreaterOrEqual(t, first, 5*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, first, w.Elapsed(), "time between segments is not counted")

	w.Start()
	assert.GreaterOrEqual(t, w.Elapsed(), first)
	w.Reset()
	assert.Zero(t, w.Elapsed())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0m :0s :0ms"},
		{1234 * time.Millisecond, "0m :1s :234ms"},
		{2*time.Minute + 5*time.Second + 7*time.Millisecond, "2m :5s :7ms"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}
