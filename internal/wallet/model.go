package wallet

import "time"

// Roles a caller can hold on a wallet.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Wallet is a shared pool of funds. Its balance lives in the ledger under
// AccountCode.
type Wallet struct {
	UID         string    `json:"uid"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	AccountCode string    `json:"accountCode"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Member grants a non-owner identity access to a wallet. A nil CreditLimit
// bounds the member by the wallet balance only; otherwise
// 0 <= CreditUsed <= *CreditLimit.
type Member struct {
	WalletUID   string    `json:"walletUid"`
	MemberUID   string    `json:"memberUid"`
	Alias       string    `json:"alias"`
	CreditLimit *int64    `json:"creditLimit"`
	CreditUsed  int64     `json:"creditUsed"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Access is a wallet seen by one identity, with its member row when the
// identity is not the owner.
type Access struct {
	Wallet     Wallet
	Membership *Member
}

// Summary is one entry of the accessible wallets listing.
type Summary struct {
	Wallet      Wallet
	Role        string
	Balance     int64
	Alias       string
	CreditLimit *int64
	CreditUsed  *int64
}

// Detail is the full projection of a wallet and its members.
type Detail struct {
	Wallet  Wallet   `json:"wallet"`
	Balance int64    `json:"balance"`
	Members []Member `json:"members"`
}

// AddMemberInput captures a membership grant.
type AddMemberInput struct {
	WalletUID   string
	MemberUID   string
	Alias       string
	CreditLimit *int64
}

// UpdateMemberInput changes a member row. With ResetCreditUsed set only
// CreditUsed is touched; otherwise non-nil fields are applied.
type UpdateMemberInput struct {
	WalletUID       string
	MemberUID       string
	Alias           *string
	CreditLimit     *int64
	ResetCreditUsed bool
}

// SpendResult reports balances after a draw. CreditUsed is nil for the owner.
type SpendResult struct {
	Balance    int64
	CreditUsed *int64
}

// FundResult reports balances after moving personal funds into a wallet.
type FundResult struct {
	Balance         int64
	PersonalBalance int64
}
