package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"betbridge/src/auth"
	"betbridge/src/refunder"

	logger "github.com/sirupsen/logrus"
)

type refundRunner interface {
	RunOnce(ctx context.Context) (*refunder.RunReport, error)
}

// RefundRunHandler triggers one refund batch. Protected by the scheduler
// bearer secret, not by wallet auth.
func RefundRunHandler(worker refundRunner, cronSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractBearer(r.Header.Get("Authorization"))
		if cronSecret == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(cronSecret)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		report, err := worker.RunOnce(r.Context())
		if err != nil {
			logger.WithError(err).Error("refund run failed")
			http.Error(w, "refund run failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, report)
	}
}
