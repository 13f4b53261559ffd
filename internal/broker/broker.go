// Package broker relays snapshots through an MQTT broker. Each instance
// publishes to <prefix>/<instance>/snapshot and consumes every other
// instance's topic.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"securecrdt/internal/debuglog"
	"securecrdt/internal/metrics"
	"securecrdt/internal/proto"
	"securecrdt/internal/replica"
)

const (
	QoS            = 1
	publishTimeout = 10 * time.Second
	ingestTimeout  = 30 * time.Second
)

// Sink consumes a remote snapshot. *node.Node satisfies it.
type Sink interface {
	Ingest(ctx context.Context, from string, data []byte) (replica.MergeResult, error)
}

type Options struct {
	BrokerURL string
	Prefix    string
	Instance  string
	Metrics   *metrics.Metrics
}

type Broker struct {
	raw      mqtt.Client
	prefix   string
	instance string
	sink     Sink
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// SnapshotTopic is the topic instance publishes on.
func SnapshotTopic(prefix, instance string) string {
	return prefix + "/" + instance + "/snapshot"
}

// InstanceFromTopic extracts the publishing instance from a snapshot topic.
func InstanceFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/snapshot")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func newBroker(opts Options, sink Sink) (*Broker, error) {
	if opts.Prefix == "" || opts.Instance == "" {
		return nil, errors.New("broker needs a topic prefix and instance id")
	}
	if strings.ContainsAny(opts.Instance, "/+#") {
		return nil, fmt.Errorf("instance id %q is not a valid topic level", opts.Instance)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Broker{
		prefix:   opts.Prefix,
		instance: opts.Instance,
		sink:     sink,
		metrics:  m,
		log:      debuglog.With(logrus.Fields{"component": "mqtt", "instance": opts.Instance}),
	}, nil
}

// Connect dials the broker and subscribes to the other instances' snapshot
// topics. Subscriptions are restored on reconnect.
func Connect(opts Options, sink Sink) (*Broker, error) {
	b, err := newBroker(opts, sink)
	if err != nil {
		return nil, err
	}
	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID("securecrdt-" + opts.Instance)
	o.SetCleanSession(false)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(2 * time.Second)
	o.SetOnConnectHandler(func(c mqtt.Client) {
		if err := b.subscribe(c); err != nil {
			b.log.WithField("error", err).Warn("mqtt subscribe failed")
		}
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.log.WithField("error", err).Warn("mqtt connection lost")
	})
	c := mqtt.NewClient(o)
	token := c.Connect()
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return nil, token.Error()
	}
	b.raw = c
	return b, nil
}

func (b *Broker) subscribe(c mqtt.Client) error {
	topic := b.prefix + "/+/snapshot"
	token := c.Subscribe(topic, QoS, b.handle)
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	b.log.WithField("topic", topic).Info("mqtt subscribed")
	return nil
}

// Publish sends an encoded snapshot on this instance's topic.
func (b *Broker) Publish(payload []byte) error {
	frame, err := proto.EncodeFrame(proto.KindPush, payload)
	if err != nil {
		return err
	}
	token := b.raw.Publish(SnapshotTopic(b.prefix, b.instance), QoS, false, frame)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("mqtt publish timed out")
	}
	return token.Error()
}

func (b *Broker) handle(_ mqtt.Client, msg mqtt.Message) {
	from, ok := InstanceFromTopic(b.prefix, msg.Topic())
	if !ok || from == b.instance {
		return
	}
	fr, err := proto.DecodeFrame(msg.Payload())
	if err != nil {
		b.metrics.IncDropByReason("mqtt_frame")
		b.log.WithFields(logrus.Fields{"from": from, "error": err}).Warn("dropping mqtt payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()
	res, err := b.sink.Ingest(ctx, from, fr.Payload)
	if err != nil {
		b.log.WithFields(logrus.Fields{"from": from, "error": err}).Warn("mqtt snapshot rejected")
		return
	}
	b.log.WithFields(logrus.Fields{"from": from, "accepted": res.Accepted}).Debug("mqtt snapshot merged")
}

func (b *Broker) Close() {
	if b.raw != nil {
		b.raw.Disconnect(250)
	}
}
