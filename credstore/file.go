package credstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	fileSaltSize  = 16
	fileNonceSize = 12
)

// File is a credential store backed by a single encrypted file. Values are
// sealed with AES-256-GCM under a key derived from the passphrase with
// argon2id, so tokens never touch the disk in the clear.
type File struct {
	mu   sync.Mutex
	path string
	key  []byte
	salt []byte
}

// fileEnvelope is the on-disk layout. Salt and nonce travel with the
// ciphertext; the key is re-derivable from the passphrase alone.
type fileEnvelope struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// NewFile opens (or prepares) an encrypted store at path. A missing file is an
// empty store; a present file must decrypt with the given passphrase.
func NewFile(path string, passphrase []byte) (*File, error) {
	f := &File{path: path}

	envelope, err := f.read()
	if err != nil {
		return nil, err
	}
	if envelope == nil {
		f.salt = make([]byte, fileSaltSize)
		if _, err := rand.Read(f.salt); err != nil {
			return nil, fmt.Errorf("generating salt: %w", err)
		}
	} else {
		f.salt = envelope.Salt
	}
	f.key = deriveKey(passphrase, f.salt)

	if envelope != nil {
		// Verify the passphrase up front rather than on first Get.
		if _, err := f.open(envelope); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = value
	return f.save(values)
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.save(values)
}

func (f *File) load() (map[string]string, error) {
	envelope, err := f.read()
	if err != nil {
		return nil, err
	}
	if envelope == nil {
		return make(map[string]string), nil
	}
	return f.open(envelope)
}

func (f *File) read() (*fileEnvelope, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential file: %w", err)
	}
	var envelope fileEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("parsing credential file: %w", err)
	}
	return &envelope, nil
}

func (f *File) open(envelope *fileEnvelope) (map[string]string, error) {
	aead, err := newAEAD(f.key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, envelope.Nonce, envelope.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting credential file: %w", err)
	}
	values := make(map[string]string)
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, fmt.Errorf("parsing credential values: %w", err)
	}
	return values, nil
}

func (f *File) save(values map[string]string) error {
	plaintext, err := json.Marshal(values)
	if err != nil {
		return err
	}
	aead, err := newAEAD(f.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, fileNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	envelope := fileEnvelope{
		Salt:       f.salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return fmt.Errorf("writing credential file: %w", err)
	}
	return nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
