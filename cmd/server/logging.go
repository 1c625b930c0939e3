package main

import (
	"io"
	"os"

	"github.com/kbats183/simple-mjpeg-restreamer/pkg/config"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func setupLogger(cfg config.LogConfig) (func(), error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	log.SetLevel(level)

	if cfg.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return func() {}, nil
	}
	logFile, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open log file")
	}
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	return func() { _ = logFile.Close() }, nil
}
