package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srgg/ptyhalfduplex/pkg/config"
	"github.com/srgg/ptyhalfduplex/pkg/halfduplex"
)

func newSession(cfg *config.Config, logger *logrus.Logger) *halfduplex.Session {
	return halfduplex.NewSession(cfg, logger)
}

func parseLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.InfoLevel, fmt.Errorf("no level given")
	}
	return logrus.ParseLevel(s)
}
