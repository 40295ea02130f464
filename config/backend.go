package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-http/interceptors"
	"github.com/glimte/mmate-http/internal/rabbitmq"
	httptransport "github.com/glimte/mmate-http/transports/http"
	amqptransport "github.com/glimte/mmate-http/transports/rabbitmq"
)

// ClosableBackend is a Backend holding resources that must be released
type ClosableBackend interface {
	interceptors.Backend
	Close() error
}

// NewBackend builds the backend selected by cfg. The AMQP backend dials the
// broker before returning.
func NewBackend(ctx context.Context, cfg BackendConfig, logger *slog.Logger) (ClosableBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case BackendHTTP, "":
		opts := []httptransport.Option{
			httptransport.WithLogger(logger),
			httptransport.WithChunkSize(cfg.HTTP.ChunkSize),
			httptransport.WithTimeout(cfg.HTTP.Timeout),
		}
		if cfg.HTTP.BaseURL != "" {
			opts = append(opts, httptransport.WithBaseURL(cfg.HTTP.BaseURL))
		}
		return httptransport.NewBackend(opts...), nil

	case BackendAMQP:
		manager := rabbitmq.NewConnectionManager(cfg.AMQP.URL,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithReconnectDelay(cfg.AMQP.ReconnectDelay),
			rabbitmq.WithMaxRetries(cfg.AMQP.MaxReconnects),
		)
		if err := manager.Connect(ctx); err != nil {
			return nil, err
		}

		backend, err := amqptransport.NewBackend(manager,
			amqptransport.WithExchange(cfg.AMQP.Exchange),
			amqptransport.WithRoutingKey(cfg.AMQP.RoutingKey),
			amqptransport.WithLogger(logger),
		)
		if err != nil {
			_ = manager.Close()
			return nil, err
		}
		return &managedBackend{Backend: backend, manager: manager}, nil
	}

	return nil, fmt.Errorf("unknown backend type %q", cfg.Type)
}

// managedBackend closes the connection together with the backend
type managedBackend struct {
	*amqptransport.Backend
	manager *rabbitmq.ConnectionManager
}

func (b *managedBackend) Close() error {
	err := b.Backend.Close()
	if closeErr := b.manager.Close(); err == nil {
		err = closeErr
	}
	return err
}

