package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"betbridge/src/controller"
)

type pinController interface {
	Setup(ctx context.Context, wallet, pin string) controller.PINResult
	Verify(ctx context.Context, wallet, pin string) controller.PINResult
}

type pinRequest struct {
	WalletAddress string `json:"walletAddress"`
	PIN           string `json:"pin"`
}

type pinResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
}

func pinStatusCode(outcome string) int {
	switch outcome {
	case controller.OutcomeSuccess:
		return http.StatusOK
	case controller.OutcomeValidationError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PINSetupHandler sets a wallet's PIN and returns a wallet-bound token.
func PINSetupHandler(ctrl pinController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet, pin, ok := decodePIN(w, r)
		if !ok {
			return
		}
		result := ctrl.Setup(r.Context(), wallet, pin)
		writePIN(w, result)
	}
}

// PINVerifyHandler checks a wallet's PIN and returns a wallet-bound token.
func PINVerifyHandler(ctrl pinController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet, pin, ok := decodePIN(w, r)
		if !ok {
			return
		}
		result := ctrl.Verify(r.Context(), wallet, pin)
		writePIN(w, result)
	}
}

func decodePIN(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return "", "", false
	}
	return req.WalletAddress, req.PIN, true
}

func writePIN(w http.ResponseWriter, result controller.PINResult) {
	writeJSON(w, pinStatusCode(result.Outcome), pinResponse{
		Success: result.Outcome == controller.OutcomeSuccess,
		Message: result.Message,
		Token:   result.Token,
	})
}
