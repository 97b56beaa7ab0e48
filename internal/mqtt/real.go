package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/farm-controller/internal/audit"
	"github.com/sweeney/farm-controller/internal/logging"
	"github.com/sweeney/farm-controller/internal/logic"
	"github.com/sweeney/farm-controller/internal/status"
)

// DefaultBufferSize is the number of publishes held while disconnected.
const DefaultBufferSize = 100

const publishTimeout = 5 * time.Second

// Options configures a RealClient.
type Options struct {
	Broker     string
	DeviceID   string
	BufferSize int

	// Inputs receives inbound messages. Nil disables subscriptions.
	Inputs Inputs

	// OnConnectionChange, if set, is called on every connect and disconnect.
	OnConnectionChange func(connected bool)
}

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool

	// latestOnly messages supersede any held copy on the same topic.
	latestOnly bool
}

// RealClient talks to an actual MQTT broker.
type RealClient struct {
	client paho.Client
	topics Topics
	inputs Inputs
	notify func(bool)
	log    zerolog.Logger
	out    *outbox
}

// NewRealClient creates a client for the given broker and starts connecting
// in the background. Publishes made before the first connection are
// buffered and replayed once it succeeds.
func NewRealClient(o Options) *RealClient {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	c := &RealClient{
		topics: NewTopics(o.DeviceID),
		inputs: o.Inputs,
		notify: o.OnConnectionChange,
		log:    logging.WithComponent("mqtt"),
	}
	c.out = newOutbox(o.BufferSize, c.IsConnected, c.send, c.log)

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID("farm-controller-"+o.DeviceID).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(c.topics.System(), string(offlinePayload()), 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Error().Err(err).Str("broker", o.Broker).Msg("connect failed")
		}
	}()
	return c
}

func (c *RealClient) onConnect(client paho.Client) {
	c.log.Info().Msg("connected")
	if c.notify != nil {
		c.notify(true)
	}
	if c.inputs != nil {
		filters := make(map[string]byte)
		for _, t := range c.topics.Subscriptions() {
			filters[t] = 1
		}
		token := client.SubscribeMultiple(filters, c.onMessage)
		go func() {
			if !token.WaitTimeout(publishTimeout) {
				c.log.Warn().Msg("subscribe timeout")
				return
			}
			if err := token.Error(); err != nil {
				c.log.Error().Err(err).Msg("subscribe failed")
			}
		}()
	}
	go c.out.replay()
}

func (c *RealClient) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn().Err(err).Msg("connection lost")
	if c.notify != nil {
		c.notify(false)
	}
}

func (c *RealClient) onMessage(_ paho.Client, msg paho.Message) {
	if err := Route(c.inputs, c.topics, msg.Topic(), msg.Payload(), time.Now()); err != nil {
		c.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("rejected inbound message")
	}
}

// IsConnected reports whether the broker connection is currently up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// PublishStates sends the retained actuatorStates document.
func (c *RealClient) PublishStates(states map[logic.Actuator]logic.ActuatorState) error {
	return c.out.publish(bufferedMsg{topic: c.topics.States(), payload: status.FormatStates(states), qos: 1, retained: true, latestOnly: true})
}

// PublishEntry sends an audit entry. Entries are not buffered here: while
// disconnected it returns audit.ErrSinkUnavailable and the audit logger
// keeps the entry for a later retry.
func (c *RealClient) PublishEntry(e audit.Entry) error {
	if !c.IsConnected() {
		return audit.ErrSinkUnavailable
	}
	payload, err := audit.MarshalEntry(e)
	if err != nil {
		return fmt.Errorf("format entry: %w", err)
	}
	return c.send(bufferedMsg{topic: c.topics.Log(e.Log()), payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once), we want lifecycle events delivered
	return c.out.publish(bufferedMsg{topic: c.topics.System(), payload: payload, qos: 1, retained: event.Retained})
}

func (c *RealClient) send(m bufferedMsg) error {
	token := c.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
