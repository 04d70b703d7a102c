// Package notify fans committed dispatch events out to MQTT subscribers.
// CRITICAL incidents go to a dedicated topic consumed by holders of the
// RECEIVE_CRITICAL_NOTIFICATIONS permission.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

const (
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesceMs   = 250
)

// Config holds broker connection settings.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// client is the part of mqtt.Client the publisher needs.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Message is the payload published for each event.
type Message struct {
	Kind        models.EventKind `json:"kind"`
	IncidentID  models.ID        `json:"incidentId,omitempty"`
	AmbulanceID models.ID        `json:"ambulanceId,omitempty"`
	Severity    models.Severity  `json:"severity,omitempty"`
	Status      string           `json:"status,omitempty"`
	Actor       string           `json:"actor,omitempty"`
	At          time.Time        `json:"at"`
}

// MQTTPublisher publishes dispatch events.
type MQTTPublisher struct {
	client  client
	prefix  string
	timeout time.Duration
	log     logrus.FieldLogger
}

// Connect dials the broker and returns a publisher on it.
func Connect(cfg Config, log logrus.FieldLogger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "dispatchd"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.WithField("broker", cfg.Broker).Info("MQTT connected")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return newPublisher(c, cfg.TopicPrefix, log), nil
}

func newPublisher(c client, prefix string, log logrus.FieldLogger) *MQTTPublisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "dispatch"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MQTTPublisher{client: c, prefix: prefix, timeout: defaultPublishTimeout, log: log}
}

// CriticalTopic is where CRITICAL incident alerts are published.
func (p *MQTTPublisher) CriticalTopic() string {
	return p.prefix + "/incidents/critical"
}

// TopicFor returns the topic an event is published on.
func (p *MQTTPublisher) TopicFor(ev models.DispatchEvent) string {
	if ev.Critical() {
		return p.CriticalTopic()
	}
	return p.prefix + "/events/" + string(ev.Kind)
}

// Record publishes ev. Critical alerts use QoS 1, everything else QoS 0.
func (p *MQTTPublisher) Record(ctx context.Context, ev models.DispatchEvent) error {
	payload, err := json.Marshal(Message{
		Kind:        ev.Kind,
		IncidentID:  ev.IncidentID,
		AmbulanceID: ev.AmbulanceID,
		Severity:    ev.Severity,
		Status:      ev.Status,
		Actor:       ev.ActorID,
		At:          ev.At,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Kind, err)
	}

	var qos byte
	if ev.Critical() {
		qos = 1
	}
	topic := p.TopicFor(ev)
	token := p.client.Publish(topic, qos, false, payload)

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	entry := p.log.WithFields(logrus.Fields{"topic": topic, "kind": ev.Kind})
	if ev.Critical() {
		entry.WithField("incident_id", ev.IncidentID).Info("Critical incident alert published")
	} else {
		entry.Debug("Dispatch event published")
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(disconnectQuiesceMs)
}
