package types

import "strings"

// MaxAccountNameLength bounds the size of an account name
const MaxAccountNameLength = 256

// AccountName identifies an account. The value is opaque to the ledger.
type AccountName string

// NewAccountName creates an AccountName, trimming surrounding whitespace
func NewAccountName(name string) AccountName {
	return AccountName(strings.TrimSpace(name))
}

// String returns the account name string
func (a AccountName) String() string {
	return string(a)
}

// IsEmpty returns true if account name is empty
func (a AccountName) IsEmpty() bool {
	return a == ""
}

// ValidateBasic checks that the name is usable as a ledger key
func (a AccountName) ValidateBasic() error {
	if a.IsEmpty() || len(a) > MaxAccountNameLength {
		return ErrInvalidAccount
	}
	return nil
}
