package admin

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

const (
	keyFilePerm   = 0600
	stateFilePerm = 0600
	dirPerm       = 0700
)

// FileSigner is a file-based admin key with nonce tracking
type FileSigner struct {
	mu sync.Mutex

	keyFilePath   string
	stateFilePath string
	lock          *flock.Flock

	pubKey  ed25519.PublicKey
	privKey ed25519.PrivateKey

	// Last nonce signed (for replay prevention)
	lastNonce uint64
}

// FileSignerKey represents the key file structure
type FileSignerKey struct {
	PubKey  []byte `json:"pub_key"`
	PrivKey []byte `json:"priv_key"`
}

// FileSignerState represents the state file structure
type FileSignerState struct {
	LastNonce uint64 `json:"last_nonce"`
}

// NewFileSigner opens an admin key, generating it if the key file is missing
func NewFileSigner(keyFilePath, stateFilePath string) (*FileSigner, error) {
	s := &FileSigner{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
	}

	if err := s.acquire(); err != nil {
		return nil, err
	}

	// Load or generate key
	if err := s.loadKey(); err != nil {
		s.Close()
		return nil, err
	}

	// Load or initialize state
	if err := s.loadState(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// GenerateFileSigner writes a fresh key and zeroed state, replacing existing files
func GenerateFileSigner(keyFilePath, stateFilePath string) (*FileSigner, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	s := &FileSigner{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
		pubKey:        pubKey,
		privKey:       privKey,
	}

	if err := s.acquire(); err != nil {
		return nil, err
	}

	if err := s.saveKey(); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.saveState(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// acquire takes an exclusive lock next to the key file
func (s *FileSigner) acquire() error {
	if err := os.MkdirAll(filepath.Dir(s.keyFilePath), dirPerm); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	s.lock = flock.New(s.keyFilePath + ".lock")
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock key file: %w", err)
	}
	if !locked {
		return ErrSignerLocked
	}
	return nil
}

// Close releases the key file lock
func (s *FileSigner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock == nil {
		return nil
	}
	err := s.lock.Unlock()
	s.lock = nil
	return err
}

// loadKey loads the key from file, generating if it doesn't exist
func (s *FileSigner) loadKey() error {
	data, err := os.ReadFile(s.keyFilePath)
	if os.IsNotExist(err) {
		pubKey, privKey, err := ed25519.GenerateKey(nil)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		s.pubKey = pubKey
		s.privKey = privKey
		return s.saveKey()
	}
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}

	var key FileSignerKey
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("failed to parse key file: %w", err)
	}

	if len(key.PubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size")
	}
	if len(key.PrivKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("invalid private key size")
	}

	s.pubKey = key.PubKey
	s.privKey = key.PrivKey
	return nil
}

// saveKey saves the key to file
func (s *FileSigner) saveKey() error {
	key := FileSignerKey{
		PubKey:  s.pubKey,
		PrivKey: s.privKey,
	}

	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}

	if err := os.WriteFile(s.keyFilePath, data, keyFilePerm); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// loadState loads the state from file
func (s *FileSigner) loadState() error {
	data, err := os.ReadFile(s.stateFilePath)
	if os.IsNotExist(err) {
		s.lastNonce = 0
		return s.saveState()
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state FileSignerState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	s.lastNonce = state.LastNonce
	return nil
}

// saveState writes the state through a temp file and rename so a crash
// never leaves a truncated nonce behind
func (s *FileSigner) saveState() error {
	dir := filepath.Dir(s.stateFilePath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(FileSignerState{LastNonce: s.lastNonce}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := s.stateFilePath + ".tmp"
	if err := os.WriteFile(tmp, data, stateFilePerm); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.stateFilePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// GetPubKey returns a copy of the public key
func (s *FileSigner) GetPubKey() ed25519.PublicKey {
	out := make(ed25519.PublicKey, len(s.pubKey))
	copy(out, s.pubKey)
	return out
}

// LastNonce returns the last nonce signed
func (s *FileSigner) LastNonce() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastNonce
}

// Sign signs req under domain. A zero Nonce is replaced by the next nonce;
// an explicit nonce must be above the last one signed.
func (s *FileSigner) Sign(domain string, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Nonce == 0 {
		req.Nonce = s.lastNonce + 1
	}
	if req.Nonce <= s.lastNonce {
		return fmt.Errorf("%w: %d <= %d", ErrNonceRegression, req.Nonce, s.lastNonce)
	}

	// Persist before releasing the signature
	prev := s.lastNonce
	s.lastNonce = req.Nonce
	if err := s.saveState(); err != nil {
		s.lastNonce = prev
		return err
	}

	req.Signature = ed25519.Sign(s.privKey, SignBytes(domain, *req))
	return nil
}
