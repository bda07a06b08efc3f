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
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/inkboard/huddle/pkg/call"
	"github.com/inkboard/huddle/pkg/config"
	"github.com/inkboard/huddle/pkg/media"
	"github.com/inkboard/huddle/pkg/profiling"
	"github.com/inkboard/huddle/pkg/relay"
	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/inkboard/huddle/pkg/signaling/gossip"
	"github.com/inkboard/huddle/pkg/signaling/matrix"
	"github.com/inkboard/huddle/pkg/signaling/memory"
	"github.com/inkboard/huddle/pkg/telemetry"
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Parse command line flags.
	var (
		configFilePath = flag.String("config", "config.yaml", "configuration file path")
		boardID        = flag.String("board", "", "id of the board whose call to join")
		isHost         = flag.Bool("host", false, "start the call as its host")
		localID        = flag.String("id", "", "participant id, overrides the config")
		unmute         = flag.Bool("unmute", false, "unmute the microphone once in the call")
		cpuProfile     = flag.String("cpuProfile", "", "write CPU profile to `file`")
		memProfile     = flag.String("memProfile", "", "write memory profile to `file`")
	)
	flag.Parse()

	// Initialize logging subsystem (formatting, global logging framework etc).
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	if *boardID == "" {
		logrus.Fatal("-board is required")
	}

	// Define functions that are called before exiting.
	// This is useful to stop the profiler if it's enabled.
	deferredFunctions := []func(){}
	if *cpuProfile != "" {
		stopProfiling, err := profiling.InitCPUProfiling(*cpuProfile)
		if err != nil {
			logrus.WithError(err).Fatal("could not start profiling")
		}
		deferredFunctions = append(deferredFunctions, stopProfiling)
	}
	if *memProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitMemoryProfiling(*memProfile))
	}
	defer func() {
		for _, function := range deferredFunctions {
			function()
		}
	}()

	// Load the config file from the environment variable or path.
	config, err := config.LoadConfig(*configFilePath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
		return
	}

	logrus.SetLevel(config.Level())

	if *localID != "" {
		config.Identity = *localID
	}
	if config.Identity == "" {
		config.Identity = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.Setup(ctx, config.Telemetry)
	if err != nil {
		logrus.WithError(err).Fatal("could not set up telemetry")
	}
	if tracerProvider != nil {
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logrus.WithError(err).Warn("could not flush telemetry")
			}
		}()
	}

	logger := logrus.WithField("local_id", config.Identity)

	transport, closeTransport, err := newTransport(ctx, config.Transport, logger)
	if err != nil {
		logger.WithError(err).Fatal("could not create the signaling transport")
	}
	defer closeTransport()

	capturer, err := media.NewCapturer(config.Capture, logger.WithField("component", "capture"))
	if err != nil {
		logger.WithError(err).Fatal("could not create the capturer")
	}

	factory, err := webrtc_ext.NewPeerConnectionFactory(config.WebRTC, logger.WithField("component", "webrtc"))
	if err != nil {
		logger.WithError(err).Fatal("could not create the peer connection factory")
	}

	controller := call.NewController(transport, capturer, factory, config.Call, logger)
	defer controller.Destroy()

	ended := make(chan struct{}, 1)
	if err := controller.Initialize(config.Identity, &logObserver{logger: logger, ended: ended}); err != nil {
		logger.WithError(err).Fatal("could not initialize the controller")
	}

	if err := controller.StartCall(ctx, *boardID, *isHost); err != nil {
		logger.WithError(err).Error("could not join the call")
		return
	}

	if *unmute {
		if err := controller.SetMuted(false); err != nil {
			logger.WithError(err).Warn("could not unmute")
		}
	}

	select {
	case <-ctx.Done():
	case <-ended:
		return
	}

	shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if *isHost {
		err = controller.EndCall(shutdown)
	} else {
		err = controller.LeaveCall(shutdown)
	}

	if err != nil {
		logger.WithError(err).Warn("could not end the call cleanly")
	}
}

// Creates the configured signaling back-end and the function releasing it.
func newTransport(
	ctx context.Context,
	transport config.Transport,
	logger *logrus.Entry,
) (signaling.Transport, func(), error) {
	logger = logger.WithField("transport", transport.Kind)

	switch transport.Kind {
	case config.TransportMemory:
		return memory.NewHub(), func() {}, nil
	case config.TransportRelay:
		client, err := relay.Dial(ctx, transport.RelayURL, logger)
		if err != nil {
			return nil, nil, err
		}

		return client, func() {}, nil
	case config.TransportGossip:
		node, err := gossip.New(ctx, transport.Gossip, logger)
		if err != nil {
			return nil, nil, err
		}

		logger.WithField("addrs", node.Addrs()).Info("gossip node listening")
		return node, func() {
			if err := node.Close(); err != nil {
				logger.WithError(err).Warn("could not close the gossip node")
			}
		}, nil
	case config.TransportMatrix:
		client, err := matrix.NewClient(transport.Matrix, logger)
		if err != nil {
			return nil, nil, err
		}

		syncCtx, cancel := context.WithCancel(ctx)
		go func() {
			// Calls cannot run without the sync, so a failed sync is fatal.
			if err := client.RunSyncing(syncCtx); err != nil {
				logger.WithError(err).Fatal("matrix sync failed")
			}
		}()

		return client, cancel, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", transport.Kind)
	}
}

// Logs the call notifications.
type logObserver struct {
	logger *logrus.Entry
	ended  chan<- struct{}
}

func (o *logObserver) ParticipantJoined(remoteID string) {
	o.logger.WithField("remote_id", remoteID).Info("participant joined")
}

func (o *logObserver) ParticipantLeft(remoteID string) {
	o.logger.WithField("remote_id", remoteID).Info("participant left")
}

func (o *logObserver) RemoteStreamAvailable(remoteID string, track webrtc_ext.TrackInfo) {
	o.logger.WithFields(logrus.Fields{
		"remote_id": remoteID,
		"track_id":  track.TrackID,
		"codec":     track.Codec.MimeType,
	}).Info("receiving audio")
}

func (o *logObserver) SpeakingChanged(remoteID string, speaking bool) {
	o.logger.WithFields(logrus.Fields{"remote_id": remoteID, "speaking": speaking}).Info("speaking changed")
}

func (o *logObserver) Error(err error) {
	o.logger.WithError(err).Error("call error")
}

func (o *logObserver) CallStarted(hostID string) {
	o.logger.WithField("host_id", hostID).Info("call started")
}

func (o *logObserver) CallEnded() {
	o.logger.Info("call ended")

	select {
	case o.ended <- struct{}{}:
	default:
	}
}
