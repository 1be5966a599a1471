// Package csp implements the cloud storage provider side of an audit
//
// Core features:
//   - PUBLIC_KEY: records the owner id and public key
//   - OUTSOURCING: replaces the single stored payload with the received file
//   - CHALLENGE: answers from the stored copy through the file's scheme
//
// Main components:
//   - Service: the message handlers
//   - Gate: owner admission, optionally refusing unregistered owners
//   - SessionManager: serializes the messages of each owner and keeps statistics
//
// Notes:
//   - The provider never sees a ledger or a private key
//   - Only one payload is stored at a time; a new OUTSOURCING replaces it
package csp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/ecc"
	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/protocol"
	"p2pStorageAudit/pkg/scheme"
)

var (
	ErrRefused = errors.New("csp: owner refused")
	ErrNoData  = errors.New("csp: no data stored for file")
)

// StoredFile describes the payload the provider currently holds.
type StoredFile struct {
	FileID     string         `json:"fileId"`
	OwnerID    string         `json:"dataOwnerId"`
	Variant    scheme.Variant `json:"scheme"`
	Blocks     int            `json:"blocks"`
	Signatures int            `json:"signatures"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

type Service struct {
	store    file.BlockStore
	gate     Gate
	sessions *SessionManager
	opts     scheme.Options

	// storeMu keeps the stored payload and current in step across owners
	storeMu sync.Mutex
	mu      sync.RWMutex
	owners  map[string]*secp256k1.PublicKey
	current *StoredFile
}

type Option func(*Service)

func WithGate(g Gate) Option {
	return func(s *Service) { s.gate = g }
}

func WithSchemeOptions(o scheme.Options) Option {
	return func(s *Service) { s.opts = o }
}

// NewService serves audits from store.
func NewService(store file.BlockStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		gate:     OpenGate{},
		sessions: NewSessionManager(),
		owners:   make(map[string]*secp256k1.PublicKey),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) HandlePublicKey(_ context.Context, msg *protocol.PublicKey) (*protocol.Ack, error) {
	var ack *protocol.Ack
	err := s.sessions.Do(msg.DataOwnerID, func() error {
		pub, err := ecc.ParsePublicKeyHex(msg.PublicKey)
		if err != nil {
			return xerrors.Errorf("owner %s: %w", msg.DataOwnerID, err)
		}
		s.mu.Lock()
		s.owners[msg.DataOwnerID] = pub
		s.mu.Unlock()
		s.gate.Register(msg.DataOwnerID)

		logrus.WithFields(logrus.Fields{
			"owner": msg.DataOwnerID,
		}).Infof("Received public key %s", msg.PublicKey)
		ack = &protocol.Ack{OK: true}
		return nil
	})
	return ack, err
}

func (s *Service) HandleOutsourcing(ctx context.Context, msg *protocol.Outsourcing) (*protocol.Ack, error) {
	if s.gate.Refuse(ctx, msg.DataOwnerID) {
		logrus.Warnf("Refused outsourcing of %s from owner %s", msg.FileID, msg.DataOwnerID)
		return nil, xerrors.Errorf("outsourcing from %s: %w", msg.DataOwnerID, ErrRefused)
	}

	var ack *protocol.Ack
	err := s.sessions.Do(msg.DataOwnerID, func() error {
		v, err := scheme.ParseVariant(msg.Scheme)
		if err != nil {
			return err
		}
		lines, err := scheme.StoredLines(msg)
		if err != nil {
			return err
		}
		stored := &StoredFile{
			FileID:     msg.FileID,
			OwnerID:    msg.DataOwnerID,
			Variant:    v,
			Blocks:     len(lines),
			Signatures: len(msg.Signatures),
			ReceivedAt: time.Now(),
		}
		s.storeMu.Lock()
		defer s.storeMu.Unlock()
		if err := s.store.WriteLines(lines); err != nil {
			return xerrors.Errorf("store file %s: %w", msg.FileID, err)
		}
		s.mu.Lock()
		s.current = stored
		s.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"owner":  msg.DataOwnerID,
			"file":   msg.FileID,
			"scheme": v,
		}).Infof("Stored %d blocks (data: %t, encrypted blocks: %t, signatures: %d)",
			len(lines), len(msg.Data) > 0, len(msg.EncryptedBlocks) > 0, len(msg.Signatures))
		ack = &protocol.Ack{OK: true}
		return nil
	})
	return ack, err
}

func (s *Service) HandleChallenge(ctx context.Context, msg *protocol.Challenge) (*protocol.ChallengeResponse, error) {
	if s.gate.Refuse(ctx, msg.DataOwnerID) {
		logrus.Warnf("Refused challenge for %s from owner %s", msg.FileID, msg.DataOwnerID)
		return nil, xerrors.Errorf("challenge from %s: %w", msg.DataOwnerID, ErrRefused)
	}

	var resp *protocol.ChallengeResponse
	err := s.sessions.Do(msg.DataOwnerID, func() error {
		s.storeMu.Lock()
		defer s.storeMu.Unlock()
		s.mu.RLock()
		current := s.current
		s.mu.RUnlock()
		// after a restart only the stored lines are left, answer from them
		if current != nil && current.FileID != msg.FileID {
			return xerrors.Errorf("file %s (holding %s): %w", msg.FileID, current.FileID, ErrNoData)
		}

		v, err := scheme.ParseVariant(msg.Scheme)
		if err != nil {
			return err
		}
		sch, err := scheme.New(v, s.opts)
		if err != nil {
			return err
		}
		stored, err := s.store.ReadLines()
		if err != nil {
			return xerrors.Errorf("file %s: %v: %w", msg.FileID, err, ErrNoData)
		}
		resp, err = sch.Respond(msg, stored)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"owner": msg.DataOwnerID,
			"file":  msg.FileID,
		}).Infof("Answered %s challenge over %d stored blocks", v, len(stored))
		return nil
	})
	return resp, err
}

// Current returns the payload currently held, nil before the first OUTSOURCING.
func (s *Service) Current() *StoredFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

// OwnerKey returns the registered public key of an owner.
func (s *Service) OwnerKey(ownerID string) (*secp256k1.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.owners[ownerID]
	return k, ok
}

func (s *Service) Sessions() *SessionManager {
	return s.sessions
}
