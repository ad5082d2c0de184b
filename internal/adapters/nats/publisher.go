package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aoli/gravelmap/internal/core/domain"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	// Ensure streams exist
	streams := []nats.StreamConfig{
		{
			Name:      "GRAVEL_NETWORK",
			Subjects:  []string{"gravel.network.>"},
			Retention: nats.InterestPolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "GRAVEL_FETCH",
			Subjects:  []string{"gravel.fetch.>"},
			Retention: nats.InterestPolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "GRAVEL_ROUTES",
			Subjects:  []string{"gravel.routes.>"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist — try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishRoadNetwork announces a wholesale network replacement. Interest
// retention: late joiners ask the API for the current snapshot instead.
func (p *Publisher) PublishRoadNetwork(ctx context.Context, network *domain.RoadNetwork) error {
	data, err := json.Marshal(network)
	if err != nil {
		return err
	}
	_, err = p.js.Publish("gravel.network.replaced", data)
	return err
}

func (p *Publisher) PublishFetchStatus(ctx context.Context, status *domain.FetchStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	_, err = p.js.Publish("gravel.fetch.status", data)
	return err
}

func (p *Publisher) PublishRouteSaved(ctx context.Context, route *domain.Route) error {
	data, err := json.Marshal(route)
	if err != nil {
		return err
	}
	_, err = p.js.Publish("gravel.routes.saved."+route.ID, data)
	return err
}

func (p *Publisher) PublishRouteDeleted(ctx context.Context, id string) error {
	_, err := p.js.Publish("gravel.routes.deleted."+id, []byte(id))
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
