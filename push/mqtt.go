package push

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes every job event to <prefix>/video_jobs/<id>
type MQTT struct {
	client      publisher
	TopicPrefix string
}

func NewMQTT(broker, topicPrefix, username, password string) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("faceserver-" + uuid.NewString())
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		logrus.WithField("broker", broker).Info("MQTT connected")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logrus.WithError(err).WithField("broker", broker).Warn("MQTT connection lost, reconnecting")
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout: %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return &MQTT{client: client, TopicPrefix: topicPrefix}, nil
}

func (m *MQTT) Topic(jobID string) string {
	return m.TopicPrefix + "/video_jobs/" + jobID
}

func (m *MQTT) Emit(event JobEvent) error {
	token := m.client.Publish(m.Topic(event.JobID), mqttQoS, false, event.JSON())
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}
	return nil
}

func (m *MQTT) Close() {
	if c, ok := m.client.(mqtt.Client); ok && c.IsConnected() {
		c.Disconnect(250)
	}
}
