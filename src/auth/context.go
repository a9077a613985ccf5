package auth

import "context"

type contextKey string

const WalletKey contextKey = "wallet"

func WithWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, WalletKey, wallet)
}

func GetWalletFromContext(ctx context.Context) (string, bool) {
	wallet, ok := ctx.Value(WalletKey).(string)
	return wallet, ok
}
