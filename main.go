package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/uptrace/bun/migrate"

	"github.com/paygate-io/paygate/custody"
	"github.com/paygate-io/paygate/db"
	"github.com/paygate-io/paygate/db/migrations"
	"github.com/paygate-io/paygate/lib/logging"
	"github.com/paygate-io/paygate/lib/service"
	"github.com/paygate-io/paygate/rabbitmq"
)

func main() {

	c := &service.Config{}

	// Load configruation from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configrued log file
	logger := logging.Logger(c.LogFilePath)

	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}

	// Migrate the DB
	startupCtx := context.Background()
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	err = migrator.Init(startupCtx)
	if err != nil {
		logger.Fatalf("Error initializing db migrator: %v", err)
	}
	_, err = migrator.Migrate(startupCtx)
	if err != nil {
		logger.Fatalf("Error migrating database: %v", err)
	}

	// Setup exception tracking with Sentry if configured
	// sentry init needs to happen before the echo middlewares are added
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
	}

	// If no RABBITMQ_URI was provided we will not attempt to create a client
	// No rabbitmq features will be available in this case.
	var rabbitmqClient rabbitmq.Client
	if c.RabbitMQUri != "" {
		amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri)
		if err != nil {
			logger.Fatal(err)
		}

		defer amqpClient.Close()

		rabbitmqClient, err = rabbitmq.NewClient(amqpClient,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithDepositExchange(c.RabbitMQDepositExchange),
			rabbitmq.WithInvoiceExchange(c.RabbitMQInvoiceExchange),
			rabbitmq.WithDepositConsumerQueueName(c.RabbitMQDepositConsumerQueue),
		)
		if err != nil {
			logger.Fatal(err)
		}

		// close the connection gently at the end of the runtime
		defer rabbitmqClient.Close()
	}

	svc := &service.GatewayService{
		Config:        c,
		DB:            dbConn,
		Logger:        logger,
		Deriver:       custody.NewXpubDeriver(&chaincfg.MainNetParams),
		InvoicePubSub: service.NewPubsub(),
	}

	//init echo server
	e := initEcho(c, logger)

	logMw := createLoggingMiddleware(logger)
	// strict rate limit for invoice creation and deposit ingestion
	strictRateLimitMiddleware := createRateLimitMiddleware(c.StrictRateLimit, c.BurstRateLimit)

	RegisterV2Endpoints(svc, e, strictRateLimitMiddleware, logMw)

	var backgroundWg sync.WaitGroup
	backGroundCtx, _ := signal.NotifyContext(context.Background(), os.Interrupt)

	// Consume deposit observations in the background
	backgroundWg.Add(1)
	go func() {
		err = StartDepositRoutine(svc, rabbitmqClient, backGroundCtx)
		if err != nil {
			sentry.CaptureException(err)
			//we want to restart in case of an error here
			svc.Logger.Fatal(err)
		}
		svc.Logger.Info("Deposit routine done")
		backgroundWg.Done()
	}()

	// Deliver pending webhooks with backoff
	backgroundWg.Add(1)
	go func() {
		err = svc.StartWebhookRoutine(backGroundCtx)
		if err != nil && err != context.Canceled {
			sentry.CaptureException(err)
			svc.Logger.Error(err)
		}
		svc.Logger.Info("Webhook routine done")
		backgroundWg.Done()
	}()

	// Cancel unpaid invoices past their payment window
	backgroundWg.Add(1)
	go func() {
		err = svc.StartExpirySweeper(backGroundCtx)
		if err != nil && err != context.Canceled {
			sentry.CaptureException(err)
			svc.Logger.Error(err)
		}
		svc.Logger.Info("Expiry sweeper done")
		backgroundWg.Done()
	}()

	//Start rabbit publisher
	if rabbitmqClient != nil {
		backgroundWg.Add(1)
		go func() {
			err = rabbitmqClient.StartPublishInvoiceEvents(backGroundCtx,
				svc.SubscribeInvoiceStatusChanges,
				svc.EncodeInvoiceEvent,
			)
			if err != nil {
				svc.Logger.Error(err)
				sentry.CaptureException(err)
			}

			svc.Logger.Info("Rabbit invoice publisher done")
			backgroundWg.Done()
		}()
	}

	//Start Prometheus server if necessary
	if svc.Config.EnablePrometheus {
		go startPrometheusEcho(logger, svc, e)
	}

	// Start server
	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backGroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
	//Wait for graceful shutdown of background routines
	backgroundWg.Wait()
	svc.Logger.Info("Gateway exiting gracefully. Goodbye.")
}
