package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttTimeout = 5 * time.Second

// MQTTSink publishes events as JSON on <prefix>/events/<kind> at QoS 0.
type MQTTSink struct {
	c      mqtt.Client
	prefix string
}

func DialMQTT(broker, clientID, prefix string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout)
	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("connect mqtt %s: timeout", broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", broker, err)
	}
	return &MQTTSink{c: c, prefix: prefix}, nil
}

func (s *MQTTSink) Send(e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	tok := s.c.Publish(s.prefix+"/events/"+string(e.Kind), 0, false, b)
	if !tok.WaitTimeout(mqttTimeout) {
		return errors.New("mqtt publish timeout")
	}
	return tok.Error()
}

func (s *MQTTSink) Close() { s.c.Disconnect(250) }
