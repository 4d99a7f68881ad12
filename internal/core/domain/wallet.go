package domain

import "time"

// WalletKind distinguishes customer wallets from operator-held wallets.
type WalletKind string

const (
	WalletKindUser WalletKind = "USER"
	WalletKindHot  WalletKind = "HOT"
	WalletKindCold WalletKind = "COLD"
)

// ProvisioningStatus tracks whether wallet creation completed.
type ProvisioningStatus string

const (
	ProvisioningReady      ProvisioningStatus = "READY"
	ProvisioningIncomplete ProvisioningStatus = "INCOMPLETE"
)

// Wallet is a custodial keypair held on behalf of a user.
// Address and owner never change and wallets are never deleted.
type Wallet struct {
	ID                 int64              `json:"id"`
	UserID             int64              `json:"user_id"`
	Address            string             `json:"address"`
	EncryptedSecret    string             `json:"-"` // hex(nonce || ciphertext || tag), never expose
	Kind               WalletKind         `json:"wallet_kind"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	CreatedAt          time.Time          `json:"created_at"`
}

// IsReady returns true once the wallet's base balance has been seeded.
func (w *Wallet) IsReady() bool {
	return w.ProvisioningStatus == ProvisioningReady
}
