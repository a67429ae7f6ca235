package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"

	"github.com/paygate-io/paygate/db/models"
	"github.com/paygate-io/paygate/lib/service"
)

// bufPool is a classic buffer pool pattern that allows more clever reuse of
// heap memory: instead of allocating a new buffer for every published invoice
// event we reuse buffers from this pool.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

const (
	contentTypeJSON = "application/json"
)

type (
	DepositHandler          = func(ctx context.Context, obs service.DepositObservation) (*service.ReconcileOutcome, error)
	SubscribeToInvoicesFunc = func() (statusChanges chan models.Invoice, err error)
	EncodeInvoiceEventFunc  = func(ctx context.Context, w io.Writer, invoice models.Invoice) error
)

type Client interface {
	// SubscribeToDeposits feeds every chain-watcher observation into the
	// handler; messages are acked only after the handler returns.
	SubscribeToDeposits(context.Context, DepositHandler) error
	// StartPublishInvoiceEvents forwards invoice status changes to the
	// gateway invoice exchange for downstream consumers.
	StartPublishInvoiceEvents(context.Context, SubscribeToInvoicesFunc, EncodeInvoiceEventFunc) error
	// Close will close all connections to rabbitmq
	Close() error
}

type DefaultClient struct {
	amqpClient AMQPClient

	logger *lecho.Logger

	depositConsumerQueueName string
	depositExchange          string
	invoiceExchange          string
}

type ClientOption = func(client *DefaultClient)

func WithDepositExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.depositExchange = exchange
	}
}

func WithInvoiceExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.invoiceExchange = exchange
	}
}

func WithDepositConsumerQueueName(name string) ClientOption {
	return func(client *DefaultClient) {
		client.depositConsumerQueueName = name
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

func NewClient(amqpClient AMQPClient, options ...ClientOption) (Client, error) {
	client := &DefaultClient{
		amqpClient: amqpClient,

		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),

		depositConsumerQueueName: "chain_deposit_consumer",
		depositExchange:          "chain_deposit",
		invoiceExchange:          "gateway_invoice",
	}

	for _, opt := range options {
		opt(client)
	}

	return client, nil
}

func (client *DefaultClient) Close() error { return client.amqpClient.Close() }

func (client *DefaultClient) SubscribeToDeposits(ctx context.Context, handler DepositHandler) error {
	err := client.amqpClient.ExchangeDeclare(
		client.depositExchange,
		// topic exchange so watchers can route per network, e.g. deposit.tron.usdt
		"topic",
		// Durable and Non-Auto-Deleted exchanges will survive server restarts
		// and remain declared when there are no remaining bindings.
		true,
		false,
		// Non-Internal exchanges accept direct publishing
		false,
		// Nowait: false because we want to wait for a server response
		// to check whether the exchange was created succesfully
		false,
		nil,
	)
	if err != nil {
		return err
	}

	deliveryChan, err := client.amqpClient.Listen(ctx, client.depositExchange, "deposit.#", client.depositConsumerQueueName)
	if err != nil {
		return err
	}

	client.logger.Info("Starting deposit observation consumer loop")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case delivery, ok := <-deliveryChan:
			if !ok {
				return fmt.Errorf("Disconnected from RabbitMQ")
			}

			var obs service.DepositObservation

			err := json.Unmarshal(delivery.Body, &obs)
			if err != nil {
				captureErr(client.logger, err)

				// If we can't even Unmarshal the message we are dealing with a
				// badly formatted event. In that case we simply Nack the message
				// and explicitly do not requeue it.
				err = delivery.Nack(false, false)
				if err != nil {
					captureErr(client.logger, err)
				}

				continue
			}

			_, err = handler(ctx, obs)
			if err != nil {
				captureErr(client.logger, err)

				// Reconciliation already recorded the event row and its retry
				// count; requeueing here would only hammer the database with
				// the same failure, so we don't.
				err := delivery.Nack(false, false)
				if err != nil {
					captureErr(client.logger, err)
				}

				continue
			}

			err = delivery.Ack(false)
			if err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func (client *DefaultClient) StartPublishInvoiceEvents(ctx context.Context, subscribeFunc SubscribeToInvoicesFunc, payloadFunc EncodeInvoiceEventFunc) error {
	err := client.amqpClient.ExchangeDeclare(
		client.invoiceExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	client.logger.Info("Starting rabbitmq invoice event publisher")

	statusChanges, err := subscribeFunc()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case invoice := <-statusChanges:
			err = client.publishToInvoiceExchange(ctx, invoice, payloadFunc)

			if err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func (client *DefaultClient) publishToInvoiceExchange(ctx context.Context, invoice models.Invoice, payloadFunc EncodeInvoiceEventFunc) error {
	payload := bufPool.Get().(*bytes.Buffer)
	payload.Reset()
	defer bufPool.Put(payload)

	err := payloadFunc(ctx, payload, invoice)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("invoice.%s", invoice.Status)

	err = client.amqpClient.PublishWithContext(ctx,
		client.invoiceExchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType: contentTypeJSON,
			Body:        payload.Bytes(),
		},
	)
	if err != nil {
		captureErr(client.logger, err)
		return err
	}

	client.logger.Debugf("Successfully published invoice event %s for %s", key, invoice.PublicID)

	return nil
}

func captureErr(logger *lecho.Logger, err error) {
	logger.Error(err)
	sentry.CaptureException(err)
}
