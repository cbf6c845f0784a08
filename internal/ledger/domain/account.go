package domain

import (
	"errors"
	"time"

	"reconplatform/internal/common/money"
)

// AccountType represents the type of ledger account
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// NormalBalance represents the normal balance side of an account
type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "debit"
	NormalBalanceCredit NormalBalance = "credit"
)

// AccountStatus represents the status of an account
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusClosed   AccountStatus = "closed"
)

// Account represents one account in a merchant's settlement ledger. Each
// merchant account carries its own chart per currency.
type Account struct {
	ID              string         `json:"id"`
	MerchantAccount string         `json:"merchant_account"`
	Code            string         `json:"code"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	AccountType     AccountType    `json:"account_type"`
	NormalBalance   NormalBalance  `json:"normal_balance"`
	Currency        money.Currency `json:"currency"`
	IsSystem        bool           `json:"is_system"`
	Status          AccountStatus  `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewAccount creates a new account
func NewAccount(id, merchantAccount, code, name string, accountType AccountType, currency money.Currency) (*Account, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if merchantAccount == "" {
		return nil, errors.New("merchant_account is required")
	}
	if code == "" {
		return nil, errors.New("code is required")
	}
	if name == "" {
		return nil, errors.New("name is required")
	}

	normalBalance := GetNormalBalance(accountType)

	return &Account{
		ID:              id,
		MerchantAccount: merchantAccount,
		Code:            code,
		Name:            name,
		AccountType:     accountType,
		NormalBalance:   normalBalance,
		Currency:        currency,
		Status:          AccountStatusActive,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}, nil
}

// GetNormalBalance returns the normal balance for an account type
func GetNormalBalance(accountType AccountType) NormalBalance {
	switch accountType {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalBalanceDebit
	case AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue:
		return NormalBalanceCredit
	default:
		return NormalBalanceDebit
	}
}

// CanHaveEntries returns whether this account can have entries posted to it
func (a *Account) CanHaveEntries() bool {
	return a.Status == AccountStatusActive
}

// Merchant chart account codes. Settled funds move through clearing into the
// merchant payable balance; processor fees accrue as revenue.
const (
	CodeSettlementClearing = "1300"
	CodeMerchantPayable    = "2000"
	CodeFeeRevenue         = "4000"
)

// MerchantChart returns the account chart provisioned for every merchant
// ledger.
func MerchantChart() []struct {
	Code        string
	Name        string
	AccountType AccountType
} {
	return []struct {
		Code        string
		Name        string
		AccountType AccountType
	}{
		{CodeSettlementClearing, "Settlement Clearing", AccountTypeAsset},
		{CodeMerchantPayable, "Merchant Payable", AccountTypeLiability},
		{CodeFeeRevenue, "Processing Fee Revenue", AccountTypeRevenue},
	}
}
