package main

import (
	"context"
	"fmt"
	"os"

	"betbridge/src/connectors"
	"betbridge/src/database"
	"betbridge/src/refunder"
	"betbridge/src/server"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "BetBridge CMD"
	app.Usage = "The BetBridge command line interface"

	app.Commands = []cli.Command{
		serverCMD,
		refunderCMD,
		refundOnceCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run the settlement API server",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the HTTP settlement server`,
	}
	refunderCMD = cli.Command{
		Name:        "refunder",
		Usage:       "run the refund worker loop",
		Action:      refunderAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the refund worker on a ticker`,
	}
	refundOnceCMD = cli.Command{
		Name:        "refund-once",
		Usage:       "process one refund batch and exit",
		Action:      refundOnceAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run a single refund batch, for external schedulers`,
	}
)

func serverAction(_ *cli.Context) error {
	logrus.Info("Starting server CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}

	server.StartServer(server.GetConfig().Port)
	return nil
}

func refunderAction(_ *cli.Context) error {
	logrus.Info("Starting refunder CMD")

	worker, err := newWorker()
	if err != nil {
		return err
	}

	return worker.StartLoop(context.Background())
}

func refundOnceAction(_ *cli.Context) error {
	logrus.Info("Starting refund-once CMD")

	worker, err := newWorker()
	if err != nil {
		return err
	}

	report, err := worker.RunOnce(context.Background())
	if err != nil {
		logrus.WithError(err).Error("Refund run failed")
		return err
	}

	logrus.WithFields(map[string]interface{}{
		"processed": report.Processed,
		"refunded":  report.Refunded,
		"failed":    report.Failed,
	}).Info("Refund run finished")

	return nil
}

func newWorker() (*refunder.RefundWorker, error) {
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return nil, err
	}

	monadClient, err := connectors.NewMonadClient(connectors.GetConfig())
	if err != nil {
		logrus.WithError(err).Error("Failed to connect to settlement chain")
		return nil, err
	}

	return refunder.NewRefundWorker(monadClient, refunder.GetConfig()), nil
}
