// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Status payloads on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

const publishTimeout = 2 * time.Second

// MQTTOptions configures an MQTT channel.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Topic       string // sensorData events
	StatusTopic string // retained online/offline, "" disables
}

// MQTTChannel publishes events to a broker. It is ready once the broker has
// acknowledged the session (CONNACK) and stays ready until the connection
// drops; paho reconnects in the background.
type MQTTChannel struct {
	client mqtt.Client
	opts   MQTTOptions
	ready  atomic.Bool
}

// NewMQTTChannel builds the channel. Call Connect to start it.
func NewMQTTChannel(o MQTTOptions) *MQTTChannel {
	c := &MQTTChannel{opts: o}

	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(500 * time.Millisecond).
		SetMaxReconnectInterval(3 * time.Second).
		SetKeepAlive(10 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			log.Printf("mqtt: reconnecting to %s", o.Broker)
		})
	if o.StatusTopic != "" {
		opts.SetWill(o.StatusTopic, StatusOffline, 1, true)
	}

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect starts connecting in the background and returns immediately.
func (c *MQTTChannel) Connect() {
	log.Printf("mqtt: connecting to %s as %s", c.opts.Broker, c.opts.ClientID)
	c.client.Connect()
}

func (c *MQTTChannel) onConnect(client mqtt.Client) {
	log.Printf("mqtt: connected to %s", c.opts.Broker)
	c.ready.Store(true)
	if c.opts.StatusTopic != "" {
		// handlers run on paho's goroutine; do not wait here
		client.Publish(c.opts.StatusTopic, 1, true, StatusOnline)
	}
}

func (c *MQTTChannel) onConnectionLost(_ mqtt.Client, err error) {
	c.ready.Store(false)
	log.Printf("mqtt: connection lost: %v", err)
}

// Ready reports whether the broker session is up.
func (c *MQTTChannel) Ready() bool {
	return c.ready.Load() && c.client.IsConnectionOpen()
}

// Send publishes the event without waiting for delivery.
func (c *MQTTChannel) Send(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("mqtt: json marshal error (event): %v", err)
		return
	}
	token := c.client.Publish(c.opts.Topic, 0, true, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("mqtt: publish timeout (%s)", c.opts.Topic)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: publish error (%s): %v", c.opts.Topic, err)
		}
	}()
}

// Close marks the device offline and disconnects.
func (c *MQTTChannel) Close() {
	if c.opts.StatusTopic != "" && c.client.IsConnectionOpen() {
		c.client.Publish(c.opts.StatusTopic, 1, true, StatusOffline).WaitTimeout(publishTimeout)
	}
	c.ready.Store(false)
	c.client.Disconnect(250)
}
