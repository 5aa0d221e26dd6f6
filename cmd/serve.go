package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/news-pipeline/internal/api"
	"github.com/sells-group/news-pipeline/internal/monitoring"
	"github.com/sells-group/news-pipeline/internal/orchestrator"
	"github.com/sells-group/news-pipeline/internal/scheduler"
)

// shutdownGrace bounds how long serve waits for the task in progress and
// open requests after a signal.
const shutdownGrace = 2 * time.Minute

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, task worker and optional scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		queue := orchestrator.NewQueue(env.Engine, env.Store, cfg.Pipeline.QueueSize)

		var sched *scheduler.Scheduler
		if cfg.Schedule.Enabled {
			sched, err = scheduler.New(queue, cfg.Schedule.Cron, cfg.Schedule.Workflow)
			if err != nil {
				return err
			}
		}

		var checker *monitoring.Checker
		if cfg.Monitoring.Enabled {
			checker = monitoring.New(env.Store, cfg.Monitoring)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.New(queue, env.Store, cfg.Server.CORSOrigins).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		return runServer(ctx, srv, queue, sched, checker)
	},
}

// runServer runs the HTTP server, the worker, the scheduler and the alert
// checker until ctx ends or one of them fails. sched and checker may be nil.
func runServer(ctx context.Context, srv *http.Server, queue *orchestrator.Queue, sched *scheduler.Scheduler, checker *monitoring.Checker) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		return eris.Wrap(srv.Shutdown(sctx), "server shutdown")
	})

	g.Go(func() error {
		return queue.Run(gctx, shutdownGrace)
	})

	if sched != nil {
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	if checker != nil {
		g.Go(func() error {
			return checker.Run(gctx)
		})
	}

	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
