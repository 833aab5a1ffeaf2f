package main

import (
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadsense/internal/model"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume turn events from NATS",
	Long:  "Queue-subscribes to the configured subject so multiple workers share the turn stream; each message is one TurnEnvelope JSON document.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		nc, err := connectNATS()
		if err != nil {
			return err
		}
		defer nc.Drain()

		sub, err := nc.QueueSubscribe(cfg.NATS.Subject, cfg.NATS.Queue, func(msg *nats.Msg) {
			var turn model.TurnEnvelope
			if err := json.Unmarshal(msg.Data, &turn); err != nil {
				zap.L().Warn("worker: dropping malformed turn message",
					zap.String("subject", msg.Subject),
					zap.Error(err),
				)
				return
			}
			// ProcessTurn owns its own failure handling; nothing to ack or nack.
			env.Pipeline.ProcessTurn(ctx, turn)
		})
		if err != nil {
			return eris.Wrapf(err, "worker: subscribe %s", cfg.NATS.Subject)
		}
		defer sub.Unsubscribe()

		zap.L().Info("worker started",
			zap.String("subject", cfg.NATS.Subject),
			zap.String("queue", cfg.NATS.Queue),
		)

		<-ctx.Done()
		zap.L().Info("worker shutting down")
		return nil
	},
}

func connectNATS() (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("worker: nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("worker: nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "worker: connect %s", cfg.NATS.URL)
	}
	return nc, nil
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
