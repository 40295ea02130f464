package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/glimte/mmate-http/config"
	"github.com/glimte/mmate-http/health"
	"github.com/glimte/mmate-http/internal/rabbitmq"
	amqptransport "github.com/glimte/mmate-http/transports/rabbitmq"
)

func newRelayCommand(g *globals) *cobra.Command {
	var (
		queue        string
		concurrency  int
		drainTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve AMQP requests through the HTTP backend",
		Long: `Consume request envelopes from an AMQP queue, send each one through the
configured interceptors and the HTTP backend, and publish every event back
to the requester's reply queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := setup(ctx, g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.close()

			amqpCfg := rt.cfg.Backend.AMQP
			if amqpCfg.URL == "" {
				return fmt.Errorf("relay needs backend.amqp.url or $%s", config.EnvAMQPURL)
			}
			if queue == "" {
				queue = amqpCfg.RoutingKey
			}

			backend, err := config.NewBackend(ctx, config.BackendConfig{
				Type: config.BackendHTTP,
				HTTP: rt.cfg.Backend.HTTP,
			}, rt.logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			handler, err := config.BuildChain(rt.cfg, nil, backend, rt.deps())
			if err != nil {
				return err
			}

			manager := rabbitmq.NewConnectionManager(amqpCfg.URL,
				rabbitmq.WithLogger(rt.logger),
				rabbitmq.WithReconnectDelay(amqpCfg.ReconnectDelay),
				rabbitmq.WithMaxRetries(amqpCfg.MaxReconnects),
			)
			rt.health.Register(health.NewConnectionChecker("broker", manager))
			if base := rt.cfg.Backend.HTTP.BaseURL; base != "" {
				rt.health.Register(health.NewEndpointChecker("upstream", handler, base))
			}

			watch := newConnectionWatch()
			manager.AddStateListener(watch)
			if err := manager.Connect(ctx); err != nil {
				return err
			}
			defer manager.Close()

			rt.logger.Info("relay connected",
				"broker", rabbitmq.SanitizeURL(amqpCfg.URL),
				"queue", queue)

			for {
				ch, err := manager.Channel()
				if err != nil {
					rt.logger.Warn("waiting for broker connection", "error", err)
					if err := watch.wait(ctx); err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					continue
				}

				responder := amqptransport.NewResponder(ch, handler,
					amqptransport.WithQueue(queue),
					amqptransport.WithConcurrency(concurrency),
					amqptransport.WithDrainTimeout(drainTimeout),
					amqptransport.WithResponderLogger(rt.logger),
				)
				err = responder.Serve(ctx)
				_ = ch.Close()

				if !errors.Is(err, rabbitmq.ErrConsumerClosed) {
					return err
				}
				rt.logger.Warn("request consumer closed, resubscribing", "queue", queue)
			}
		},
	}

	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Queue to consume (default: backend.amqp.routing_key)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Requests served at once")
	cmd.Flags().DurationVar(&drainTimeout, "drain-timeout", amqptransport.DefaultDrainTimeout, "How long in-flight requests may finish on shutdown")

	return cmd
}

// connectionWatch turns connection state callbacks into channel signals
type connectionWatch struct {
	connected chan struct{}
	gaveUp    chan error
}

func newConnectionWatch() *connectionWatch {
	return &connectionWatch{
		connected: make(chan struct{}, 1),
		gaveUp:    make(chan error, 1),
	}
}

func (w *connectionWatch) OnConnected() {
	select {
	case w.connected <- struct{}{}:
	default:
	}
}

func (w *connectionWatch) OnDisconnected(err error) {
	if errors.Is(err, rabbitmq.ErrMaxRetriesExceeded) {
		select {
		case w.gaveUp <- err:
		default:
		}
	}
}

func (w *connectionWatch) OnReconnecting(int) {}

// wait blocks until the manager reconnects, gives up or ctx is done
func (w *connectionWatch) wait(ctx context.Context) error {
	select {
	case <-w.connected:
		return nil
	case err := <-w.gaveUp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
