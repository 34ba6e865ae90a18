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
	"golang.org/x/time/rate"

	"wagate/internal/ackpipe"
	"wagate/internal/awsutil"
	"wagate/internal/config"
	"wagate/internal/domain"
	"wagate/internal/httpserver"
	"wagate/internal/logging"
	"wagate/internal/notify"
	"wagate/internal/notify/natsbus"
	"wagate/internal/notify/ws"
	"wagate/internal/observability"
	sqsqueue "wagate/internal/queue/sqs"
	"wagate/internal/reconciler"
	"wagate/internal/sender"
	"wagate/internal/service"
	"wagate/internal/store"
	"wagate/internal/store/memstore"
	"wagate/internal/store/pg"
	"wagate/internal/transport"
	"wagate/internal/transport/simulated"
	"wagate/internal/transport/whatsapp"
)

type backend interface {
	service.Store
	store.AckUnitOfWork
	Ping(ctx context.Context) error
}

type session interface {
	transport.Session
	Start(ctx context.Context) error
	Close()
}

func main() {
	_ = godotenv.Load()
	cfg := config.LoadGateway()
	log := logging.Init("gateway", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observability.Register(prometheus.DefaultRegisterer)

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("gateway store init failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// live updates
	hub := ws.NewHub(log.With("component", "ws"), cfg.WSBuffer)
	defer hub.Close()
	sinks := notify.Fanout{hub}
	if cfg.NATSURL != "" {
		nc, err := natsbus.Connect(cfg.NATSURL, "wagate-gateway", log)
		if err != nil {
			log.Error("gateway nats connect failed", "err", err)
			os.Exit(1)
		}
		defer func() { _ = nc.Drain() }()
		sinks = append(sinks, natsbus.New(nc, cfg.NATSSubjectPrefix))
	}

	rec := reconciler.New(st, notify.NewDeliveryNotifier(sinks, log), log.With("component", "reconciler"))
	dispatcher := ackpipe.New(rec, cfg.AckWorkers, cfg.AckBuffer, log.With("component", "ackpipe"))
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	sess, err := openSession(ctx, cfg, log)
	if err != nil {
		log.Error("gateway transport init failed", "err", err)
		os.Exit(1)
	}
	defer sess.Close()

	onAck, err := ackRoute(ctx, cfg, dispatcher, log)
	if err != nil {
		log.Error("gateway ack relay init failed", "err", err)
		os.Exit(1)
	}

	snd := &sender.Sender{
		Transport: sess,
		Limiter:   rate.NewLimiter(rate.Limit(cfg.SendRPS), cfg.SendBurst),
		Breaker:   sender.NewBreaker("transport", cfg.BreakerMaxFailures, cfg.BreakerOpenFor),
		Timeout:   cfg.SendTimeout,
	}
	svc := &service.MessagingService{
		Store:       st,
		Sender:      snd,
		Session:     sess,
		Broadcaster: sinks,
		Log:         log.With("component", "messaging"),
	}

	sess.Subscribe(transport.Handler{
		OnAck: onAck,
		OnInbound: func(m domain.InboundMessage) {
			if err := svc.HandleInbound(ctx, m); err != nil {
				log.Error("inbound message not stored", "err", err, "from", m.FromAddress, "transport_id", m.TransportMessageID)
			}
		},
		OnState: func(s transport.State) {
			log.Info("transport state", "state", string(s))
		},
	})

	s := httpserver.New()
	s.Mux.Use(httpserver.Metrics(observability.APIRequests))
	api := &httpserver.API{
		Svc:    svc,
		QR:     sess,
		APIKey: cfg.APIKey,
		Live:   hub,
		Acks:   &httpserver.AckIngest{Proc: rec, Secret: cfg.AckWebhookSecret},
	}
	api.Register(s.Mux)
	s.Mux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second,
		st.Ping,
		httpserver.TransportConnected(sess),
	)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpserver.Logging(s.Mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.APIKey == "" {
		log.Warn("API_KEY is not set; protected endpoints will answer 500")
	}
	if err := sess.Start(ctx); err != nil {
		log.Error("gateway transport start failed", "err", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "port", cfg.Port, "transport", cfg.Transport, "store", cfg.StoreDriver)
		srvErrCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-srvErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("gateway server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info("gateway shutdown", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

func openStore(ctx context.Context, cfg config.GatewayConfig) (backend, func(), error) {
	if cfg.StoreDriver == "memory" {
		slog.Warn("using in-memory store; nothing survives a restart")
		return memstore.New(), func() {}, nil
	}
	pool, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
		ConnectTimeout:    3 * time.Second,
	})
	if err != nil {
		return nil, nil, err
	}
	return pg.New(pool), pool.Close, nil
}

func openSession(ctx context.Context, cfg config.GatewayConfig, log *slog.Logger) (session, error) {
	if cfg.Transport == "simulated" {
		return simulated.New(simulated.DefaultConfig()), nil
	}
	wa, err := whatsapp.Open(ctx, whatsapp.Config{
		StoreDialect:         cfg.SessionDBDialect,
		StoreDSN:             cfg.SessionDBDSN,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		PrintQR:              cfg.PrintQR,
	}, log.With("component", "whatsapp"))
	if err != nil {
		return nil, err
	}
	return wa, nil
}

// ackRoute reconciles in process, or relays to the ack queue when one is configured.
// A failed relay falls back to in-process reconciliation.
func ackRoute(ctx context.Context, cfg config.GatewayConfig, d *ackpipe.Dispatcher, log *slog.Logger) (func(domain.AckEvent), error) {
	local := func(ev domain.AckEvent) {
		if err := d.Submit(ctx, ev); err != nil {
			log.Warn("ack dropped", "err", err, "transport_id", ev.TransportMessageID, "level", int(ev.AckLevel))
		}
	}
	if cfg.AckQueueURL == "" {
		return local, nil
	}

	client, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		return nil, err
	}
	producer := &sqsqueue.AckProducer{SQS: client, QueueURL: cfg.AckQueueURL}
	log.Info("relaying acks", "queue_url", cfg.AckQueueURL)
	return func(ev domain.AckEvent) {
		if err := producer.Enqueue(ctx, ev); err != nil {
			observability.AckRelay.WithLabelValues("enqueue_error").Inc()
			log.Warn("ack relay failed; reconciling locally", "err", err, "transport_id", ev.TransportMessageID)
			local(ev)
			return
		}
		observability.AckRelay.WithLabelValues("enqueued").Inc()
	}, nil
}
