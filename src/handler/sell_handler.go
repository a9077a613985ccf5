package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"betbridge/src/auth"
	"betbridge/src/controller"

	"github.com/shopspring/decimal"
)

type sellController interface {
	ExecuteSell(ctx context.Context, params controller.SellParams) controller.SellResult
}

type sellRequest struct {
	WalletAddress string          `json:"walletAddress"`
	TokenID       string          `json:"tokenId"`
	Shares        decimal.Decimal `json:"shares"`
	TickSize      string          `json:"tickSize,omitempty"`
	NegRisk       bool            `json:"negRisk,omitempty"`
}

type sellResponse struct {
	Success     bool            `json:"success"`
	Outcome     string          `json:"outcome"`
	Message     string          `json:"message,omitempty"`
	Fill        *fillReceipt    `json:"fill,omitempty"`
	ProceedsUSD decimal.Decimal `json:"proceedsUsd"`

	PayoutStatus string          `json:"payoutStatus,omitempty"`
	PayoutMON    decimal.Decimal `json:"payoutMon"`
	PayoutTxHash string          `json:"payoutTxHash,omitempty"`
	ExplorerURL  string          `json:"explorerUrl,omitempty"`
	PayoutError  string          `json:"payoutError,omitempty"`
}

func sellStatusCode(outcome string) int {
	switch outcome {
	case controller.OutcomeSuccess:
		return http.StatusOK
	case controller.OutcomeValidationError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// SellHandler settles a sell for the authenticated wallet. The wallet in
// the body must match the one the token or platform header authorizes.
func SellHandler(ctrl sellController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authedWallet, ok := auth.GetWalletFromContext(r.Context())
		if !ok || authedWallet == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req sellRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if req.WalletAddress == "" {
			req.WalletAddress = authedWallet
		}
		if !strings.EqualFold(req.WalletAddress, authedWallet) {
			http.Error(w, "wallet does not match token", http.StatusForbidden)
			return
		}

		result := ctrl.ExecuteSell(r.Context(), controller.SellParams{
			WalletAddress: req.WalletAddress,
			TokenID:       req.TokenID,
			Shares:        req.Shares,
			TickSize:      req.TickSize,
			NegRisk:       req.NegRisk,
		})

		resp := sellResponse{
			Success:      result.Outcome == controller.OutcomeSuccess,
			Outcome:      result.Outcome,
			Message:      result.Message,
			ProceedsUSD:  result.ProceedsUSD,
			PayoutStatus: result.PayoutStatus,
			PayoutMON:    result.PayoutMON,
			PayoutTxHash: result.PayoutTxHash,
			ExplorerURL:  result.ExplorerURL,
			PayoutError:  result.PayoutError,
		}
		if result.Fill != nil {
			resp.Fill = &fillReceipt{
				OrderID:     result.Fill.OrderID,
				VenueTxHash: result.Fill.VenueTxHash,
				Price:       result.Fill.Price,
				Shares:      result.Fill.Shares,
				AmountUSD:   result.Fill.AmountUSD,
				ExplorerURL: result.Fill.ExplorerURL,
				TokenID:     result.Fill.TokenID,
			}
		}

		writeJSON(w, sellStatusCode(result.Outcome), resp)
	}
}
