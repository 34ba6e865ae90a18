package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"wagate/internal/awsutil"
	"wagate/internal/config"
	"wagate/internal/httpserver"
	"wagate/internal/logging"
	"wagate/internal/notify"
	"wagate/internal/notify/natsbus"
	"wagate/internal/observability"
	sqsqueue "wagate/internal/queue/sqs"
	"wagate/internal/reconciler"
	"wagate/internal/store/pg"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadAckProcessor()
	log := logging.Init("ack-processor", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observability.Register(prometheus.DefaultRegisterer)

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
		ConnectTimeout:    3 * time.Second,
	})
	if err != nil {
		log.Error("ack-processor db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := pg.New(db)

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		log.Error("ack-processor sqs client init failed", "err", err)
		os.Exit(1)
	}

	var sink notify.Broadcaster = notify.Discard{}
	if cfg.NATSURL != "" {
		nc, err := natsbus.Connect(cfg.NATSURL, "wagate-ack-processor", log)
		if err != nil {
			log.Error("ack-processor nats connect failed", "err", err)
			os.Exit(1)
		}
		defer func() { _ = nc.Drain() }()
		sink = natsbus.New(nc, cfg.NATSSubjectPrefix)
	} else {
		log.Warn("NATS_URL not set; status updates are not broadcast")
	}
	rec := reconciler.New(st, notify.NewDeliveryNotifier(sink, log), log.With("component", "reconciler"))

	consumer := &sqsqueue.AckConsumer{
		SQS:               sqsClient,
		QueueURL:          cfg.AckQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}

	// health + metrics
	s := httpserver.New()
	s.Mux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, st.Ping)).Methods(http.MethodGet)
	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: httpserver.Logging(s.Mux), ReadHeaderTimeout: 10 * time.Second}

	healthErrCh := make(chan error, 1)
	go func() {
		log.Info("ack-processor health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	pollErrCh := make(chan error, 1)
	go func() {
		log.Info("ack-processor starting poll", "queue_url", cfg.AckQueueURL, "concurrency", cfg.Concurrency)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.Concurrency, func(ctx context.Context, job sqsqueue.AckJob) error {
			return process(ctx, rec, job)
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("ack-processor poll failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ack-processor health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info("ack-processor shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		log.Info("ack-processor shutdown timeout waiting for poll loop")
	}
}

// process bounds the DB work for one job. Any error leaves the message on the
// queue for redelivery.
func process(ctx context.Context, rec *reconciler.Reconciler, job sqsqueue.AckJob) error {
	dbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := rec.ProcessAck(dbCtx, job.Event())
	if err != nil {
		observability.AckRelay.WithLabelValues("process_error").Inc()
		slog.Error("ack not processed", "err", err, "transport_id", job.TransportMessageID, "ack", job.AckLevel)
		return err
	}
	observability.AckRelay.WithLabelValues("processed").Inc()
	if res.Discarded {
		slog.Info("relayed ack discarded", "transport_id", job.TransportMessageID, "ack", job.AckLevel)
	}
	return nil
}
