package main

import (
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/contractr/contractr/internal/queue"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process sourcing and messaging jobs from the Redis queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := workerConcurrency
		if concurrency == 0 {
			concurrency = cfg.Queue.Concurrency
		}

		srv := queue.NewServer(asynq.RedisClientOpt{Addr: cfg.Queue.RedisAddr}, concurrency)
		if err := srv.Start(env.Handlers.Mux()); err != nil {
			return eris.Wrap(err, "start worker")
		}
		zap.L().Info("worker started",
			zap.String("redis", cfg.Queue.RedisAddr),
			zap.Int("concurrency", concurrency),
		)

		<-ctx.Done()
		zap.L().Info("shutting down worker")
		srv.Shutdown()
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "worker concurrency (default from config)")
	rootCmd.AddCommand(workerCmd)
}
