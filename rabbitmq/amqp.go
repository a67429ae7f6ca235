package rabbitmq

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

const (
	defaultHeartbeat = 10 * time.Second
	defaultLocale    = "en_US"

	msgReconnect = "RECONNECT_DONE"
	msgClose     = "CLOSE"
)

type listenerMsg = string

type AMQPClient interface {
	Listen(ctx context.Context, exchange string, routingKey string, queueName string) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Close() error
}

type defaultAMQPClient struct {
	conn *amqp.Connection
	uri  string

	// It is recommended that, when possible, publishers and consumers
	// use separate connections so that consumers are isolated from potential
	// flow control measures that may be applied to publishing connections.
	consumeChannel *amqp.Channel
	publishChannel *amqp.Channel

	notifyCloseChan chan *amqp.Error

	listeners []chan listenerMsg
	reconFlag atomic.Bool

	logger *lecho.Logger
}

func DialAMQP(uri string) (AMQPClient, error) {
	client := &defaultAMQPClient{
		uri: uri,
		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),
		reconFlag: atomic.Bool{},
	}
	err := client.connect()
	if err != nil {
		return client, err
	}

	client.listeners = []chan listenerMsg{}

	go client.reconnectionLoop()

	return client, err
}

func (c *defaultAMQPClient) connect() error {
	conn, err := amqp.DialConfig(c.uri, amqp.Config{
		Heartbeat: defaultHeartbeat,
		Locale:    defaultLocale,
		Dial:      amqp.DefaultDial(time.Second * 3),
	})
	if err != nil {
		return err
	}

	consumeChannel, err := conn.Channel()
	if err != nil {
		return err
	}

	publishChannel, err := conn.Channel()
	if err != nil {
		return err
	}

	notifyCloseChan := make(chan *amqp.Error)
	conn.NotifyClose(notifyCloseChan)

	c.conn = conn
	c.consumeChannel = consumeChannel
	c.publishChannel = publishChannel
	c.notifyCloseChan = notifyCloseChan

	return nil
}

func (c *defaultAMQPClient) reconnectionLoop() error {
	for amqpError := range c.notifyCloseChan {
		c.logger.Error(amqpError)

		exponentialBackoff := backoff.NewExponentialBackOff()
		exponentialBackoff.MaxInterval = time.Second * 10
		exponentialBackoff.MaxElapsedTime = time.Minute

		c.reconFlag.Store(true)

		c.logger.Info("amqp: trying to reconnect...")
		err := backoff.Retry(c.connect, exponentialBackoff)
		if err != nil {
			for _, listener := range c.listeners {
				listener <- msgClose
			}

			return err
		}

		c.reconFlag.Store(false)
		c.logger.Info("amqp: succesfully reconnected")

		for _, listener := range c.listeners {
			listener <- msgReconnect
		}
	}
	return nil
}

func (c *defaultAMQPClient) Close() error {
	return c.conn.Close()
}

func (c *defaultAMQPClient) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return c.publishChannel.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

func (c *defaultAMQPClient) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	// Short lived channel so a failed declare doesn't poison the
	// consumer/publisher channels.
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return ch.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
}

func (c *defaultAMQPClient) consume(exchange, routingKey, queueName string) (<-chan amqp.Delivery, error) {
	queue, err := c.consumeChannel.QueueDeclare(
		queueName,
		// Durable and Non-Auto-Deleted queues will survive server restarts and remain
		// declared when there are no remaining bindings.
		true,
		false,
		// Non-Exclusive means other consumers can consume from this queue.
		// Messages from queues are spread out and load balanced between consumers,
		// so multiple gateway instances will spread the load of deposits between them.
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	err = c.consumeChannel.QueueBind(queue.Name, routingKey, exchange, false, nil)
	if err != nil {
		return nil, err
	}

	return c.consumeChannel.Consume(queue.Name, "", false, false, false, false, nil)
}

func (c *defaultAMQPClient) Listen(ctx context.Context, exchange string, routingKey string, queueName string) (<-chan amqp.Delivery, error) {
	deliveries, err := c.consume(exchange, routingKey, queueName)
	if err != nil {
		return nil, err
	}

	clientChannel := make(chan amqp.Delivery)

	notifyReconnectChan := make(chan listenerMsg, 2)
	c.listeners = append(c.listeners, notifyReconnectChan)

	// This routine is a wrapper around the raw delivery channel. The happy
	// path passes messages on as-is; on a reconnect notification the listener
	// re-consumes from the channels of the new connection.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return

			case msg := <-notifyReconnectChan:
				switch msg {
				case msgReconnect:
					d, err := c.consume(exchange, routingKey, queueName)
					if err != nil {
						c.logger.Error(err)

						return
					}

					c.logger.Infof("amqp: succesfully consuming messages with routingkey: %s from new deliveries channel", routingKey)
					deliveries = d

				case msgClose:
					close(clientChannel)
				default:
					c.logger.Warnf("amqp: unrecognized message send to listener: %s", msg)
				}

			case delivery, ok := <-deliveries:
				if ok {
					clientChannel <- delivery
				}
			}
		}
	}()

	return clientChannel, nil
}
