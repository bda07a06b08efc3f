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

// Package matrix implements the signaling transport on Matrix rooms: one room
// per board, custom room events for signaling and a custom state event per
// participant for presence.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

var (
	ErrWrongUser     = errors.New("access token is for the wrong user")
	ErrAlreadyJoined = errors.New("room is already joined by this client")
)

const eventPrefix = "io.huddle."

// Presence of a participant, stored as room state keyed by participant id.
var PresenceEventType = event.Type{Type: eventPrefix + "presence", Class: event.StateEventType}

// Room message type carrying a signaling event.
func MessageEventType(signalingEvent string) event.Type {
	return event.Type{Type: eventPrefix + signalingEvent, Class: event.MessageEventType}
}

func init() {
	event.TypeMap[PresenceEventType] = reflect.TypeOf(PresenceContent{})
	for _, name := range signaling.Events {
		event.TypeMap[MessageEventType(name)] = reflect.TypeOf(MessageContent{})
	}
}

// Client is a signaling.Transport backed by a Matrix account.
type Client struct {
	client *mautrix.Client
	server string
	logger *logrus.Entry

	mutex sync.Mutex
	rooms map[id.RoomID]*roomTopic
}

func NewClient(config Config, logger *logrus.Entry) (*Client, error) {
	client, err := mautrix.NewClient(config.HomeserverURL, config.UserID, config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	whoami, err := client.Whoami()
	if err != nil {
		return nil, fmt.Errorf("failed to identify user: %w", err)
	}

	if config.UserID != whoami.UserID {
		return nil, fmt.Errorf("%w: %s", ErrWrongUser, config.UserID)
	}

	logger.WithField("device_id", whoami.DeviceID).Info("identified matrix device")
	client.DeviceID = whoami.DeviceID

	server := config.AliasServer
	if server == "" {
		_, homeserver, err := config.UserID.Parse()
		if err != nil {
			return nil, fmt.Errorf("invalid user id: %w", err)
		}
		server = homeserver
	}

	return &Client{
		client: client,
		server: server,
		logger: logger,
		rooms:  make(map[id.RoomID]*roomTopic),
	}, nil
}

// RoomAlias returns the alias of the room that carries a topic.
func RoomAlias(topic, server string) id.RoomAlias {
	return id.RoomAlias(fmt.Sprintf("#%s:%s", topic, server))
}

// Starts syncing with the homeserver. Returns when the context is cancelled
// or when the sync fails.
func (c *Client) RunSyncing(ctx context.Context) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("syncer is not DefaultSyncer")
	}

	syncer.ParseEventContent = true
	syncer.OnEvent(func(_ mautrix.EventSource, evt *event.Event) {
		c.mutex.Lock()
		room := c.rooms[evt.RoomID]
		c.mutex.Unlock()

		// Events of rooms that are not joined as a topic are none of our business.
		if room != nil {
			room.handleEvent(evt)
		}
	})

	go func() {
		<-ctx.Done()
		c.client.StopSync()
	}()

	if err := c.client.Sync(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	return nil
}

func (c *Client) Join(ctx context.Context, topic string, self signaling.Member) (signaling.Topic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	alias := RoomAlias(topic, c.server)
	resolved, err := c.client.ResolveAlias(alias)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", alias, err)
	}

	if _, err := c.client.JoinRoomByID(resolved.RoomID); err != nil {
		return nil, fmt.Errorf("failed to join %s: %w", resolved.RoomID, err)
	}

	state, err := c.client.State(resolved.RoomID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch state of %s: %w", resolved.RoomID, err)
	}

	var present []PresenceContent
	for eventType, events := range state {
		// The class of state types is not always known after decoding.
		if eventType.Type != PresenceEventType.Type {
			continue
		}

		for _, evt := range events {
			if content, ok := parsePresence(evt); ok && content.Active {
				present = append(present, content)
			}
		}
	}

	room := newRoomTopic(self, present, c.sender(resolved.RoomID), c.logger.WithFields(logrus.Fields{
		"topic":   topic,
		"room_id": resolved.RoomID,
	}))
	room.onLeave = func() { c.forget(resolved.RoomID) }

	c.mutex.Lock()
	if _, found := c.rooms[resolved.RoomID]; found {
		c.mutex.Unlock()
		room.Close()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyJoined, resolved.RoomID)
	}
	c.rooms[resolved.RoomID] = room
	c.mutex.Unlock()

	if err := room.announce(true); err != nil {
		c.forget(resolved.RoomID)
		room.Close()
		return nil, err
	}

	return room, nil
}

func (c *Client) forget(roomID id.RoomID) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.rooms, roomID)
}

func (c *Client) sender(roomID id.RoomID) sendFunc {
	return func(eventType event.Type, stateKey *string, content interface{}) error {
		var err error
		if stateKey != nil {
			_, err = c.client.SendStateEvent(roomID, eventType, *stateKey, content)
		} else {
			_, err = c.client.SendMessageEvent(roomID, eventType, content)
		}

		return err
	}
}
