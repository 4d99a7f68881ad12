package service

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"custody-ledger/internal/adapter/secrets"
	"custody-ledger/internal/core/ports/mocks"
	"custody-ledger/pkg/apperror"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// Valid 32-byte keys in hex (64 chars)
const (
	testVaultKey  = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	otherVaultKey = "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"
)

func newTestVault(t *testing.T, hexKey string) *KeyVault {
	t.Helper()
	provider, err := secrets.NewStaticProvider(hexKey)
	require.NoError(t, err)
	return NewKeyVault(provider, newTestLogger())
}

// handoutProvider remembers every key slice it hands out.
type handoutProvider struct {
	key    []byte
	handed [][]byte
}

func (p *handoutProvider) Key(ctx context.Context) ([]byte, error) {
	out := append([]byte(nil), p.key...)
	p.handed = append(p.handed, out)
	return out, nil
}

func TestKeyVault_GenerateKeypair(t *testing.T) {
	vault := newTestVault(t, testVaultKey)

	addr, secret, err := vault.GenerateKeypair()
	require.NoError(t, err)
	assert.Len(t, secret, 64)

	pub, err := solana.PublicKeyFromBase58(addr)
	require.NoError(t, err)
	assert.Equal(t, solana.PrivateKey(secret).PublicKey(), pub)

	addr2, _, err := vault.GenerateKeypair()
	require.NoError(t, err)
	assert.NotEqual(t, addr, addr2)
}

func TestKeyVault_EncryptDecrypt(t *testing.T) {
	vault := newTestVault(t, testVaultKey)
	ctx := context.Background()

	_, secret, err := vault.GenerateKeypair()
	require.NoError(t, err)

	blob, err := vault.Encrypt(ctx, secret)
	require.NoError(t, err)
	assert.NotContains(t, blob, hex.EncodeToString(secret))

	plain, err := vault.Decrypt(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, secret, plain)
}

func TestKeyVault_DifferentNonces(t *testing.T) {
	vault := newTestVault(t, testVaultKey)
	ctx := context.Background()

	c1, err := vault.Encrypt(ctx, []byte("same secret"))
	require.NoError(t, err)
	c2, err := vault.Encrypt(ctx, []byte("same secret"))
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2, "same plaintext should produce different ciphertext due to random nonce")
	assert.NotEqual(t, c1[:24], c2[:24])
}

func TestKeyVault_TamperedBlob(t *testing.T) {
	vault := newTestVault(t, testVaultKey)
	ctx := context.Background()

	blob, err := vault.Encrypt(ctx, []byte("secret"))
	require.NoError(t, err)

	for _, pos := range []int{0, len(blob) / 2, len(blob) - 1} {
		b := []byte(blob)
		if b[pos] == '0' {
			b[pos] = '1'
		} else {
			b[pos] = '0'
		}
		_, err := vault.Decrypt(ctx, string(b))
		assert.True(t, apperror.HasCode(err, apperror.CodeDecryption), "position %d", pos)
	}
}

func TestKeyVault_WrongKey(t *testing.T) {
	ctx := context.Background()
	blob, err := newTestVault(t, testVaultKey).Encrypt(ctx, []byte("secret"))
	require.NoError(t, err)

	_, err = newTestVault(t, otherVaultKey).Decrypt(ctx, blob)
	assertAppError(t, err, apperror.CodeDecryption)
}

func TestKeyVault_MalformedBlob(t *testing.T) {
	vault := newTestVault(t, testVaultKey)
	ctx := context.Background()

	_, err := vault.Decrypt(ctx, "not-hex-at-all!!!")
	assertAppError(t, err, apperror.CodeDecryption)

	_, err = vault.Decrypt(ctx, "abcdef")
	assertAppError(t, err, apperror.CodeDecryption)

	_, err = vault.Decrypt(ctx, "")
	assertAppError(t, err, apperror.CodeDecryption)
}

func TestKeyVault_ZeroesKeyAfterUse(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	provider := &handoutProvider{key: key}
	vault := NewKeyVault(provider, newTestLogger())
	ctx := context.Background()

	blob, err := vault.Encrypt(ctx, []byte("secret"))
	require.NoError(t, err)
	_, err = vault.Decrypt(ctx, blob)
	require.NoError(t, err)

	require.Len(t, provider.handed, 2)
	for _, k := range provider.handed {
		assert.Equal(t, make([]byte, 32), k)
	}
}

func TestKeyVault_ProviderFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockSecretProvider(ctrl)
	provider.EXPECT().Key(gomock.Any()).Return(nil, errors.New("kms unreachable")).Times(2)

	vault := NewKeyVault(provider, newTestLogger())
	ctx := context.Background()

	_, err := vault.Encrypt(ctx, []byte("secret"))
	assertAppError(t, err, apperror.CodeKeyUnavailable)

	err = vault.Verify(ctx)
	assertAppError(t, err, apperror.CodeKeyUnavailable)
}

func TestKeyVault_VerifyRejectsShortKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockSecretProvider(ctrl)
	provider.EXPECT().Key(gomock.Any()).Return([]byte("short"), nil)

	err := NewKeyVault(provider, newTestLogger()).Verify(context.Background())
	assertAppError(t, err, apperror.CodeKeyUnavailable)
}

func TestKeyVault_VerifyNilProvider(t *testing.T) {
	err := NewKeyVault(nil, newTestLogger()).Verify(context.Background())
	assertAppError(t, err, apperror.CodeKeyUnavailable)
}

func TestKeyVault_Verify(t *testing.T) {
	assert.NoError(t, newTestVault(t, testVaultKey).Verify(context.Background()))
}
