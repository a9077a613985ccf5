package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"betbridge/src/auth"
	"betbridge/src/connectors"
	"betbridge/src/controller"
	"betbridge/src/executor"
	"betbridge/src/handler"
	"betbridge/src/oracle"
	"betbridge/src/refunder"
	"betbridge/src/risk"
	"betbridge/src/verifier"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

func StartServer(port string) {
	serverConfig := GetConfig()
	connConfig := connectors.GetConfig()

	monadClient, err := connectors.NewMonadClient(connConfig)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to settlement chain")
	}

	clobClient := connectors.NewClobClient(connConfig)
	priceOracle := oracle.NewPriceOracle(oracle.GetConfig())
	paymentVerifier := verifier.NewPaymentVerifier(monadClient, priceOracle, verifier.GetConfig())
	tradeExecutor := executor.NewTradeExecutor(clobClient, executor.GetConfig())

	authConfig := auth.GetConfig()
	controllerConfig := controller.GetConfig()
	limits := risk.GetLimitConfig()

	tradeController := controller.NewTradeController(
		paymentVerifier, tradeExecutor, clobClient, limits, controllerConfig)
	sellController := controller.NewSellController(
		tradeExecutor, monadClient, priceOracle, controllerConfig)
	pinController := controller.NewPINController(authConfig)
	refundWorker := refunder.NewRefundWorker(monadClient, refunder.GetConfig())

	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Post("/trade/execute", handler.TradeExecuteHandler(tradeController))
	r.Get("/trade/execute", handler.TradeStatusHandler(tradeController))

	r.Post("/auth/pin/setup", handler.PINSetupHandler(pinController))
	r.Post("/auth/pin/verify", handler.PINVerifyHandler(pinController))

	// Scheduler-triggered, bearer secret protected
	r.Get("/refund/run", handler.RefundRunHandler(refundWorker, authConfig.CronSecret))

	// Wallet-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(handler.WalletAuth(authConfig))
		r.Post("/trade/sell", handler.SellHandler(sellController))
	})

	addr := ":" + port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  serverConfig.ReadTimeout,
		WriteTimeout: serverConfig.WriteTimeout,
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
