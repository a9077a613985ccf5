package controller

import (
	"context"
	"time"

	"betbridge/src/auth"
	"betbridge/src/model"
	"betbridge/src/repository"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type pinLedger interface {
	FindByWallet(ctx context.Context, wallet string) (*model.WalletPIN, error)
	Create(ctx context.Context, pin *model.WalletPIN) error
}

// PINResult carries the auth outcome and, on success, a wallet-bound token.
type PINResult struct {
	Outcome string
	Message string
	Token   string
}

// PINController manages wallet PIN setup and verification. A verified PIN
// yields a token that authorizes sells for that wallet only.
type PINController struct {
	pins   pinLedger
	config auth.Config
}

func NewPINController(config auth.Config) *PINController {
	return &PINController{
		pins:   repository.NewWalletPINRepository(),
		config: config,
	}
}

// WithLedger overrides the repository, used by tests.
func (c *PINController) WithLedger(pins pinLedger) *PINController {
	c.pins = pins
	return c
}

// Setup stores a bcrypt hash of the PIN for a wallet that has none yet.
func (c *PINController) Setup(ctx context.Context, wallet, pin string) PINResult {
	log := logger.WithFields(map[string]interface{}{
		"component": "PINController",
		"wallet":    wallet,
	})

	if wallet == "" || len(pin) < 4 || len(pin) > 12 {
		return PINResult{Outcome: OutcomeValidationError, Message: "wallet and a 4-12 digit pin are required"}
	}

	existing, err := c.pins.FindByWallet(ctx, wallet)
	if err != nil {
		log.WithError(err).Error("pin lookup failed")
		return PINResult{Outcome: OutcomeInternalError, Message: "pin lookup failed"}
	}
	if existing != nil {
		return PINResult{Outcome: OutcomeValidationError, Message: "pin already set for this wallet"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		log.WithError(err).Error("failed to hash pin")
		return PINResult{Outcome: OutcomeInternalError, Message: "failed to store pin"}
	}

	if err := c.pins.Create(ctx, &model.WalletPIN{WalletAddress: wallet, PINHash: string(hash)}); err != nil {
		log.WithError(err).Error("failed to store pin")
		return PINResult{Outcome: OutcomeInternalError, Message: "failed to store pin"}
	}

	log.Info("wallet pin set")
	return c.issueToken(wallet, log)
}

// Verify compares the PIN against the stored hash and issues a token.
func (c *PINController) Verify(ctx context.Context, wallet, pin string) PINResult {
	log := logger.WithFields(map[string]interface{}{
		"component": "PINController",
		"wallet":    wallet,
	})

	if wallet == "" || pin == "" {
		return PINResult{Outcome: OutcomeValidationError, Message: "wallet and pin are required"}
	}

	record, err := c.pins.FindByWallet(ctx, wallet)
	if err != nil {
		log.WithError(err).Error("pin lookup failed")
		return PINResult{Outcome: OutcomeInternalError, Message: "pin lookup failed"}
	}
	if record == nil {
		return PINResult{Outcome: OutcomeValidationError, Message: "no pin set for this wallet"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.PINHash), []byte(pin)); err != nil {
		log.Warn("pin verification failed")
		return PINResult{Outcome: OutcomeValidationError, Message: "invalid pin"}
	}

	return c.issueToken(wallet, log)
}

func (c *PINController) issueToken(wallet string, log *logger.Entry) PINResult {
	token, err := auth.NewWalletToken(wallet, []byte(c.config.JWTSecret), c.config.TokenTTL, time.Now())
	if err != nil {
		log.WithError(err).Error("failed to issue wallet token")
		return PINResult{Outcome: OutcomeInternalError, Message: "failed to issue token"}
	}
	return PINResult{Outcome: OutcomeSuccess, Token: token}
}
