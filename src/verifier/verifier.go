// Payment verification against the settlement chain and the price oracle.
// The USD value of a payment is always derived from the on-chain transferred
// amount times the oracle price, never from anything the client sent.
package verifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"betbridge/src/connectors"
)

// ConfirmationStatus is the typed outcome of waiting for a payment receipt.
type ConfirmationStatus int

const (
	Confirmed ConfirmationStatus = iota
	Pending
	TimedOut
)

// Chain confirmation is asynchronous; poll a few times with increasing
// backoff before giving up.
var confirmationBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	2 * time.Second,
	3 * time.Second,
	3 * time.Second,
}

type chainReader interface {
	LookupPayment(ctx context.Context, txHash string) (*connectors.PaymentLookup, error)
	DepositAddress() string
}

type priceSource interface {
	GetPriceOrFail(ctx context.Context) (decimal.Decimal, error)
}

// Result is the outcome of verifying one payment.
type Result struct {
	Verified     bool
	PayerAddress string
	PaidMON      decimal.Decimal
	MonPriceUSD  decimal.Decimal
	ComputedUSD  decimal.Decimal
	Error        string
}

// PaymentVerifier confirms and values MON payments.
type PaymentVerifier struct {
	chain  chainReader
	oracle priceSource
	config Config
}

func NewPaymentVerifier(chain chainReader, oracle priceSource, config Config) *PaymentVerifier {
	return &PaymentVerifier{
		chain:  chain,
		oracle: oracle,
		config: config,
	}
}

// Verify confirms the payment transaction, checks recipient and revert
// status, and accepts only when the oracle-derived USD value covers the
// expected amount within the underpay tolerance.
func (v *PaymentVerifier) Verify(
	ctx context.Context,
	paymentTxHash string,
	expectedAmountUSD decimal.Decimal,
) Result {

	lookup, status := v.awaitConfirmation(ctx, paymentTxHash)

	switch status {
	case Pending, TimedOut:
		return Result{Error: "transaction not confirmed"}
	}

	if lookup.Reverted {
		return Result{Error: "transaction failed on-chain"}
	}

	// Payments sent anywhere but the collection address settle nothing.
	if !strings.EqualFold(lookup.To, v.chain.DepositAddress()) {
		return Result{Error: "wrong recipient"}
	}

	price, err := v.oracle.GetPriceOrFail(ctx)
	if err != nil {
		// Fail closed: no price, no verification.
		return Result{Error: err.Error()}
	}

	computedUSD := lookup.ValueMON.Mul(price)

	tolerance := decimal.NewFromFloat(v.config.UnderpayTolerance)
	minUSD := expectedAmountUSD.Mul(decimal.NewFromInt(1).Sub(tolerance))

	if computedUSD.LessThan(minUSD) {
		return Result{
			PayerAddress: lookup.From,
			PaidMON:      lookup.ValueMON,
			MonPriceUSD:  price,
			ComputedUSD:  computedUSD,
			Error: fmt.Sprintf(
				"insufficient payment: %s MON (~$%s) < $%s required",
				lookup.ValueMON.StringFixed(4),
				computedUSD.StringFixed(2),
				minUSD.StringFixed(2),
			),
		}
	}

	logger.WithFields(map[string]interface{}{
		"component":    "PaymentVerifier",
		"payment_tx":   paymentTxHash,
		"payer":        lookup.From,
		"mon_paid":     lookup.ValueMON,
		"computed_usd": computedUSD,
	}).Info("Payment verified")

	return Result{
		Verified:     true,
		PayerAddress: lookup.From,
		PaidMON:      lookup.ValueMON,
		MonPriceUSD:  price,
		ComputedUSD:  computedUSD,
	}
}

// awaitConfirmation polls for the receipt using the bounded backoff
// schedule. Lookup errors count as a missed attempt rather than aborting the
// whole verification.
func (v *PaymentVerifier) awaitConfirmation(
	ctx context.Context,
	txHash string,
) (*connectors.PaymentLookup, ConfirmationStatus) {

	for attempt, delay := range confirmationBackoff {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, TimedOut
			case <-time.After(delay):
			}
		}

		lookup, err := v.chain.LookupPayment(ctx, txHash)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"component":  "PaymentVerifier",
				"payment_tx": txHash,
				"attempt":    attempt + 1,
			}).WithError(err).Warn("Payment lookup attempt failed")
			continue
		}

		if lookup.Found {
			return lookup, Confirmed
		}
	}

	return nil, TimedOut
}
