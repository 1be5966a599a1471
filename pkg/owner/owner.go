// Package owner drives the data owner side of an audit
//
// Phases:
//   - Phase one: generate an identity, send the public key, outsource a file
//     and commit its tags to the ledger
//   - Phase two: challenge the provider and compare its answer with the
//     ledger-anchored tags
//
// State machine:
//
//	Uninitialized -> KeyGenerated -> PublicKeySent -> Outsourced -> Challenged -> Verified
//
// Notes:
//   - Calls out of order fail with ErrInvalidState
//   - Further files reuse the identity and start again from PublicKeySent
//   - The ledger is only written after the provider acknowledged the file
package owner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/ecc"
	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/ledger"
	"p2pStorageAudit/pkg/protocol"
	"p2pStorageAudit/pkg/scheme"
)

var (
	ErrInvalidState = errors.New("owner: operation not allowed in current state")
	ErrRejected     = errors.New("owner: provider rejected the request")
)

type State int

const (
	Uninitialized State = iota
	KeyGenerated
	PublicKeySent
	Outsourced
	Challenged
	Verified
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case KeyGenerated:
		return "KeyGenerated"
	case PublicKeySent:
		return "PublicKeySent"
	case Outsourced:
		return "Outsourced"
	case Challenged:
		return "Challenged"
	case Verified:
		return "Verified"
	}
	return "Unknown"
}

// Transport delivers the owner's messages to the provider and waits for the reply.
type Transport interface {
	SendPublicKey(ctx context.Context, msg *protocol.PublicKey) (*protocol.Ack, error)
	Outsource(ctx context.Context, msg *protocol.Outsourcing) (*protocol.Ack, error)
	Challenge(ctx context.Context, msg *protocol.Challenge) (*protocol.ChallengeResponse, error)
}

type Options struct {
	Scheme    scheme.Scheme
	Transport Transport
	Ledger    *ledger.Ledger
	// Provider is the provider's persisted copy, needed by randomized-signature.
	Provider file.BlockStore
}

type Report struct {
	FileID   string
	Scheme   scheme.Variant
	Intact   bool
	PhaseOne time.Duration
	PhaseTwo time.Duration
}

type DataOwner struct {
	opts Options

	mu       sync.Mutex
	state    State
	identity *ecc.Identity
	sessions map[string]*scheme.Session
	files    []file.FileRecord
	phaseOne map[string]time.Duration
}

func New(opts Options) *DataOwner {
	return &DataOwner{
		opts:     opts,
		sessions: make(map[string]*scheme.Session),
		phaseOne: make(map[string]time.Duration),
	}
}

func (o *DataOwner) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *DataOwner) Identity() *ecc.Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.identity
}

// Files lists the records of every file outsourced so far.
func (o *DataOwner) Files() []file.FileRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]file.FileRecord(nil), o.files...)
}

func (o *DataOwner) require(allowed ...State) error {
	for _, s := range allowed {
		if o.state == s {
			return nil
		}
	}
	return xerrors.Errorf("in state %s: %w", o.state, ErrInvalidState)
}

// GenerateIdentity creates the owner's id and key pair.
func (o *DataOwner) GenerateIdentity() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.require(Uninitialized); err != nil {
		return err
	}
	id, err := ecc.NewIdentity()
	if err != nil {
		return err
	}
	o.identity = id
	o.state = KeyGenerated
	logrus.Infof("Generated data owner identity %s", id.ID)
	return nil
}

// SendPublicKey registers the owner with the provider.
func (o *DataOwner) SendPublicKey(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.require(KeyGenerated); err != nil {
		return err
	}
	ack, err := o.opts.Transport.SendPublicKey(ctx, &protocol.PublicKey{
		DataOwnerID: o.identity.ID,
		PublicKey:   o.identity.PublicKeyHex(),
	})
	if err != nil {
		return xerrors.Errorf("send public key: %w", err)
	}
	if !ack.OK {
		return xerrors.Errorf("send public key: %s: %w", ack.Error, ErrRejected)
	}
	o.state = PublicKeySent
	return nil
}

// Outsource runs phase one for blocks under a fresh file id.
func (o *DataOwner) Outsource(ctx context.Context, blocks [][]byte) (*file.FileRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.require(PublicKeySent, Outsourced, Challenged, Verified); err != nil {
		return nil, err
	}

	var watch Stopwatch
	watch.Start()
	fileID := uuid.NewString()
	gen, err := o.opts.Scheme.Generate(ctx, o.identity, fileID, blocks)
	if err != nil {
		return nil, xerrors.Errorf("generate tags for %s: %w", fileID, err)
	}

	ack, err := o.opts.Transport.Outsource(ctx, &gen.Outsourcing)
	if err != nil {
		return nil, xerrors.Errorf("outsource %s: %w", fileID, err)
	}
	if !ack.OK {
		return nil, xerrors.Errorf("outsource %s: %s: %w", fileID, ack.Error, ErrRejected)
	}

	if err := o.opts.Ledger.Commit(fileID, gen.LedgerPayloads); err != nil {
		return nil, xerrors.Errorf("record tags of %s: %w", fileID, err)
	}

	elapsed := watch.Stop()
	o.sessions[fileID] = gen.Session
	o.files = append(o.files, gen.Record)
	o.phaseOne[fileID] = elapsed
	o.state = Outsourced

	logrus.WithFields(logrus.Fields{
		"file":   fileID,
		"scheme": gen.Session.Variant,
	}).Infof("Outsourced %d blocks", len(blocks))
	logrus.Infof("Phase 1: %s", FormatDuration(elapsed))
	rec := gen.Record
	return &rec, nil
}

// Challenge runs phase two for a previously outsourced file.
func (o *DataOwner) Challenge(ctx context.Context, fileID string) (*Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.require(Outsourced, Challenged, Verified); err != nil {
		return nil, err
	}
	sess, ok := o.sessions[fileID]
	if !ok {
		return nil, xerrors.Errorf("file %s was not outsourced by this owner: %w", fileID, ErrInvalidState)
	}
	report := &Report{FileID: fileID, Scheme: sess.Variant, PhaseOne: o.phaseOne[fileID]}

	var watch Stopwatch
	watch.Start()
	chain, err := o.opts.Ledger.Get(fileID)
	if err != nil {
		return report, xerrors.Errorf("read ledger of %s: %w", fileID, err)
	}
	payloads := chain.Payloads()
	ch, err := o.opts.Scheme.NewChallenge(ctx, o.identity, sess, payloads)
	if err != nil {
		return report, xerrors.Errorf("build challenge for %s: %w", fileID, err)
	}
	watch.Stop()

	o.state = Challenged
	resp, err := o.opts.Transport.Challenge(ctx, ch)
	if err != nil {
		return report, xerrors.Errorf("challenge %s: %w", fileID, err)
	}

	watch.Start()
	intact, err := o.opts.Scheme.Verify(ctx, o.identity, sess, payloads, ch, resp, o.opts.Provider)
	report.PhaseTwo = watch.Stop()
	if err != nil {
		return report, xerrors.Errorf("verify %s: %w", fileID, err)
	}
	report.Intact = intact
	o.state = Verified

	logrus.WithField("file", fileID).Infof("Is data intact: %t", intact)
	logrus.Infof("Phase 2: %s", FormatDuration(report.PhaseTwo))
	return report, nil
}

// PhaseOne generates the identity if needed, registers it and outsources blocks.
func (o *DataOwner) PhaseOne(ctx context.Context, blocks [][]byte) (*file.FileRecord, error) {
	if o.State() == Uninitialized {
		if err := o.GenerateIdentity(); err != nil {
			return nil, err
		}
	}
	if o.State() == KeyGenerated {
		if err := o.SendPublicKey(ctx); err != nil {
			return nil, err
		}
	}
	return o.Outsource(ctx, blocks)
}

// Run executes both phases for one file.
func (o *DataOwner) Run(ctx context.Context, blocks [][]byte) (*Report, error) {
	rec, err := o.PhaseOne(ctx, blocks)
	if err != nil {
		return nil, err
	}
	return o.Challenge(ctx, rec.FileID)
}
