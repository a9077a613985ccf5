package main

import (
	"betbridge/src/database"
	"betbridge/src/server"
	"fmt"
	logger "github.com/sirupsen/logrus"
	"os"
	"strings"
	"time"
)

var (
	PORT     = os.Getenv("SERVER_PORT")
	APP_NAME = os.Getenv("APP_NAME")
)

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	if PORT == "" {
		PORT = server.GetConfig().Port
	}

	server.StartServer(PORT)
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
