package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"betbridge/src/controller"
	"betbridge/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type buyController interface {
	ExecuteBuy(ctx context.Context, params controller.BuyParams) controller.BuyResult
	Status(ctx context.Context, wallet string) controller.StatusReport
}

type tradeExecuteRequest struct {
	PaymentTxHash string          `json:"paymentTxHash"`
	WalletAddress string          `json:"walletAddress"`
	MarketSlug    string          `json:"marketSlug"`
	ConditionID   string          `json:"conditionId"`
	Side          string          `json:"side"`
	AmountUSD     decimal.Decimal `json:"amountUsd"`

	TokenID  string `json:"tokenId,omitempty"`
	TickSize string `json:"tickSize,omitempty"`
	NegRisk  *bool  `json:"negRisk,omitempty"`
}

type fillReceipt struct {
	OrderID     string          `json:"orderId"`
	VenueTxHash string          `json:"venueTxHash,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Shares      decimal.Decimal `json:"shares"`
	AmountUSD   decimal.Decimal `json:"amountUsd"`
	ExplorerURL string          `json:"explorerUrl,omitempty"`
	TokenID     string          `json:"tokenId,omitempty"`
}

type tradeExecuteResponse struct {
	Success         bool         `json:"success"`
	Outcome         string       `json:"outcome"`
	Message         string       `json:"message,omitempty"`
	Retryable       bool         `json:"retryable,omitempty"`
	OrphanedPayment bool         `json:"orphanedPayment,omitempty"`
	Mock            bool         `json:"mock,omitempty"`
	Order           *model.Order `json:"order,omitempty"`
	Fill            *fillReceipt `json:"fill,omitempty"`
}

func buyStatusCode(outcome string) int {
	switch outcome {
	case controller.OutcomeSuccess:
		return http.StatusOK
	case controller.OutcomeValidationError,
		controller.OutcomePaymentRejected,
		controller.OutcomeInsufficientCapital:
		return http.StatusBadRequest
	case controller.OutcomeReplayDetected:
		return http.StatusConflict
	case controller.OutcomeLimitExceeded:
		return http.StatusTooManyRequests
	case controller.OutcomeCapitalUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// TradeExecuteHandler runs the buy settlement pipeline for a posted
// payment reference.
func TradeExecuteHandler(ctrl buyController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tradeExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		result := ctrl.ExecuteBuy(r.Context(), controller.BuyParams{
			PaymentTxHash: req.PaymentTxHash,
			WalletAddress: req.WalletAddress,
			MarketSlug:    req.MarketSlug,
			ConditionID:   req.ConditionID,
			Side:          req.Side,
			AmountUSD:     req.AmountUSD,
			TokenID:       req.TokenID,
			TickSize:      req.TickSize,
			NegRisk:       req.NegRisk,
		})

		resp := tradeExecuteResponse{
			Success:         result.Outcome == controller.OutcomeSuccess,
			Outcome:         result.Outcome,
			Message:         result.Message,
			Retryable:       result.Retryable,
			OrphanedPayment: result.OrphanedPayment,
			Mock:            result.Mock,
			Order:           result.Order,
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

		writeJSON(w, buyStatusCode(result.Outcome), resp)
	}
}

// TradeStatusHandler reports readiness, limits, and the caller's
// unresolved failed orders.
func TradeStatusHandler(ctrl buyController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet := r.URL.Query().Get("wallet")
		report := ctrl.Status(r.Context(), wallet)

		code := http.StatusOK
		if !report.Ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
