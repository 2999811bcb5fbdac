package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/mozilla/leanplum-tasks/pkg/logger"
)

func main() {
	logger.SetLogrus(*logger.DefaultConfig())

	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("fatal error running leanplum-tasks")
		os.Exit(1)
	}
}
