package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
)

const vaultKeySize = 32

// KeyVault implements ports.KeyVault using AES-256-GCM over a key supplied
// by the secret manager on every call.
type KeyVault struct {
	provider ports.SecretProvider
	rand     io.Reader
	log      zerolog.Logger
}

// NewKeyVault creates a key vault backed by the given secret provider.
func NewKeyVault(provider ports.SecretProvider, log zerolog.Logger) *KeyVault {
	return &KeyVault{
		provider: provider,
		rand:     rand.Reader,
		log:      log.With().Str("component", "key_vault").Logger(),
	}
}

// GenerateKeypair creates a new ed25519 keypair and returns its base58
// address with the raw 64-byte secret key.
func (v *KeyVault) GenerateKeypair() (string, []byte, error) {
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", nil, apperror.ErrKeyGeneration(err)
	}
	return priv.PublicKey().String(), []byte(priv), nil
}

// Encrypt seals secret and returns hex(nonce || ciphertext || tag).
func (v *KeyVault) Encrypt(ctx context.Context, secret []byte) (string, error) {
	gcm, err := v.cipher(ctx)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", apperror.ErrKeyGeneration(fmt.Errorf("generating nonce: %w", err))
	}

	sealed := gcm.Seal(nonce, nonce, secret, nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed, truncated or
// tampered blob, as well as a blob sealed under another key, yields a
// decryption error.
func (v *KeyVault) Decrypt(ctx context.Context, blob string) ([]byte, error) {
	raw, err := hex.DecodeString(blob)
	if err != nil {
		return nil, apperror.ErrDecryption(errors.New("blob is not hex encoded"))
	}

	gcm, err := v.cipher(ctx)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize+gcm.Overhead() {
		return nil, apperror.ErrDecryption(errors.New("blob too short"))
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperror.ErrDecryption(errors.New("authentication failed"))
	}
	return plain, nil
}

// Verify fetches the key once and checks it can seal and open a probe.
func (v *KeyVault) Verify(ctx context.Context) error {
	probe := []byte("custody-ledger key probe")
	blob, err := v.Encrypt(ctx, probe)
	if err != nil {
		return err
	}
	if _, err := v.Decrypt(ctx, blob); err != nil {
		return apperror.ErrKeyUnavailable(err)
	}
	v.log.Info().Msg("wallet encryption key verified")
	return nil
}

// cipher builds the AEAD for one call. The key bytes are zeroed before
// returning; the expanded AES schedule lives only as long as the AEAD.
func (v *KeyVault) cipher(ctx context.Context) (cipher.AEAD, error) {
	if v.provider == nil {
		return nil, apperror.ErrKeyUnavailable(errors.New("no secret provider configured"))
	}

	key, err := v.provider.Key(ctx)
	if err != nil {
		return nil, apperror.ErrKeyUnavailable(err)
	}
	defer clear(key)

	if len(key) != vaultKeySize {
		return nil, apperror.ErrKeyUnavailable(fmt.Errorf("key must be %d bytes, got %d", vaultKeySize, len(key)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperror.ErrKeyUnavailable(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperror.ErrKeyUnavailable(err)
	}
	return gcm, nil
}
