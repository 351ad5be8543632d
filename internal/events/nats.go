package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON on <prefix>.events.<kind>.
type NATSSink struct {
	pub    natsPublisher
	nc     *nats.Conn
	prefix string
}

func DialNATS(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("keeper"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSSink{pub: nc, nc: nc, prefix: prefix}, nil
}

func (s *NATSSink) Send(e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.pub.Publish(s.prefix+".events."+string(e.Kind), b)
}

func (s *NATSSink) Close() {
	if s.nc != nil {
		_ = s.nc.Drain()
	}
}
