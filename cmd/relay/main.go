/*
Copyright 2022 The Matrix.org Foundation C.I.C.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inkboard/huddle/pkg/config"
	"github.com/inkboard/huddle/pkg/relay"
	"github.com/sirupsen/logrus"
)

const (
	defaultListen   = ":8090"
	shutdownTimeout = 5 * time.Second
)

func main() {
	// Parse command line flags.
	var (
		configFilePath = flag.String("config", "", "configuration file path")
		listen         = flag.String("listen", "", "address to listen on, overrides the config")
	)
	flag.Parse()

	// Initialize logging subsystem (formatting, global logging framework etc).
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	// The relay runs without any config file.
	serverConfig := relay.Config{}
	if *configFilePath != "" || os.Getenv("CONFIG") != "" {
		config, err := config.LoadConfig(*configFilePath)
		if err != nil {
			logrus.WithError(err).Fatal("could not load config")
			return
		}

		logrus.SetLevel(config.Level())
		serverConfig = config.Relay
	}

	if *listen != "" {
		serverConfig.Listen = *listen
	}
	if serverConfig.Listen == "" {
		serverConfig.Listen = defaultListen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logrus.WithField("listen", serverConfig.Listen)
	server := &http.Server{
		Addr:              serverConfig.Listen,
		Handler:           relay.NewServer(serverConfig, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdown); err != nil {
			logger.WithError(err).Warn("could not shut down cleanly")
		}
	}()

	logger.Info("relay listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("relay stopped")
	}
}
