package handlers

import (
	"context"
)

// Context keys
type contextKey string

const (
	// AccountKey is the key for the authenticated account in the context
	AccountKey contextKey = "account"
)

// NewContextWithAccount adds the acting account to the context
func NewContextWithAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, AccountKey, account)
}

// AccountFromContext extracts the acting account from the context
func AccountFromContext(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(AccountKey).(string)
	return account, ok && account != ""
}
