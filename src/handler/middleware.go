package handler

import (
	"crypto/subtle"
	"net/http"

	"betbridge/src/auth"

	logger "github.com/sirupsen/logrus"
)

// WalletAuth resolves the caller's wallet from either a wallet-bound
// bearer token or the trusted platform header pair. Requests without a
// valid identity are rejected before the handler runs.
func WalletAuth(config auth.Config) func(http.Handler) http.Handler {
	secret := []byte(config.JWTSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := auth.ExtractBearer(r.Header.Get("Authorization")); token != "" {
				claims, err := auth.ParseWalletToken(token, secret)
				if err != nil {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(auth.WithWallet(r.Context(), claims.Wallet)))
				return
			}

			// First-party callers authenticate with the platform secret and
			// name the wallet explicitly.
			platform := r.Header.Get("X-Platform-Secret")
			wallet := r.Header.Get("X-Wallet-Address")
			if config.PlatformSecret != "" && wallet != "" &&
				subtle.ConstantTimeCompare([]byte(platform), []byte(config.PlatformSecret)) == 1 {
				next.ServeHTTP(w, r.WithContext(auth.WithWallet(r.Context(), wallet)))
				return
			}

			logger.WithField("path", r.URL.Path).Warn("unauthenticated request rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}
