// Package mqtt publishes Molnus cameras to Home Assistant over MQTT.
// It announces a sensor and a camera per configured camera through MQTT
// discovery and keeps their state in sync with the coordinators.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/s0up4200/molnus/coordinator"
	"github.com/s0up4200/molnus/entity"
)

const (
	// unknownPayload makes Home Assistant show the sensor as unknown
	unknownPayload = "None"

	haStatusTopic = "homeassistant/status"

	publishTimeout = 10 * time.Second
)

// Publisher sends camera state to an MQTT broker
type Publisher interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// StubPublisher is a no-op publisher for when MQTT is not configured
type StubPublisher struct {
	logger zerolog.Logger
}

// NewStubPublisher creates a no-op MQTT publisher
func NewStubPublisher(logger zerolog.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

// Start is a no-op
func (s *StubPublisher) Start(_ context.Context) error {
	s.logger.Info().Msg("MQTT publisher disabled")
	return nil
}

// Stop is a no-op
func (s *StubPublisher) Stop(_ context.Context) error {
	return nil
}

var (
	_ Publisher = (*StubPublisher)(nil)
	_ Publisher = (*HAPublisher)(nil)
)

// Config holds MQTT publisher configuration
type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	DiscoveryPrefix string
}

// StateSource is the coordinator view the publisher needs
type StateSource interface {
	CameraID() string
	Data() *coordinator.State
	LastUpdateSuccess() bool
	AddListener(fn coordinator.Listener) func()
}

// ImageSource returns the latest image bytes for a state
type ImageSource interface {
	Image(ctx context.Context, state *coordinator.State) ([]byte, error)
}

// Binding ties one camera's coordinator to its entities
type Binding struct {
	Name           string
	Source         StateSource
	Camera         ImageSource
	SensorEntityID string
	CameraEntityID string
}

// client is the subset of pahomqtt.Client the publisher uses
type client interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
}

// HAPublisher publishes Home Assistant discovery configs and forwards
// coordinator updates to the broker
type HAPublisher struct {
	cfg      Config
	bindings []Binding
	logger   zerolog.Logger

	newClient func(opts *pahomqtt.ClientOptions) client
	client    client

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	dirty   map[string]bool
	lastURL map[string]string
	wake    chan struct{}

	removers []func()
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHAPublisher creates a new Home Assistant MQTT publisher
func NewHAPublisher(cfg Config, bindings []Binding, logger zerolog.Logger) *HAPublisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = entity.Domain
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "molnus-bridge"
	}

	return &HAPublisher{
		cfg:      cfg,
		bindings: bindings,
		logger:   logger.With().Str("component", "mqtt").Logger(),
		newClient: func(opts *pahomqtt.ClientOptions) client {
			return pahomqtt.NewClient(opts)
		},
		dirty:   make(map[string]bool),
		lastURL: make(map[string]string),
		wake:    make(chan struct{}, 1),
	}
}

// Start connects to the broker and begins forwarding coordinator updates.
// Discovery and a full state snapshot are published on every (re)connect.
func (p *HAPublisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.bridgeTopic(), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.logger.Info().Msg("MQTT connected, publishing discovery and state")
			p.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.logger.Warn().Err(err).Msg("MQTT connection lost")
		})

	p.client = p.newClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("mqtt connect: timed out connecting to %s", p.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	for _, b := range p.bindings {
		cameraID := b.Source.CameraID()
		p.removers = append(p.removers, b.Source.AddListener(func() {
			p.markDirty(cameraID)
		}))
	}

	p.wg.Add(1)
	go p.eventLoop()

	p.logger.Info().
		Str("broker", p.cfg.Broker).
		Int("cameras", len(p.bindings)).
		Msg("MQTT publisher started")
	return nil
}

// Stop marks everything offline and disconnects
func (p *HAPublisher) Stop(_ context.Context) error {
	p.stopOnce.Do(func() {
		p.logger.Info().Msg("MQTT publisher stopping")

		for _, remove := range p.removers {
			remove()
		}
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()

		if p.client != nil && p.client.IsConnected() {
			p.publish(p.bridgeTopic(), "offline", true)
			p.client.Disconnect(1000)
		}
		p.logger.Info().Msg("MQTT publisher stopped")
	})
	return nil
}

func (p *HAPublisher) onConnect() {
	p.publish(p.bridgeTopic(), "online", true)
	p.publishDiscovery()

	token := p.client.Subscribe(haStatusTopic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if string(msg.Payload()) == "online" {
			p.logger.Info().Msg("Home Assistant came online, re-publishing discovery")
			p.publishDiscovery()
			p.markAllDirty()
		}
	})
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		p.logger.Error().Err(token.Error()).Str("topic", haStatusTopic).Msg("Failed to subscribe")
	}

	// Images are re-sent after a reconnect since retained state may be gone
	p.mu.Lock()
	clear(p.lastURL)
	p.mu.Unlock()
	p.markAllDirty()
}

func (p *HAPublisher) publishDiscovery() {
	for _, b := range p.bindings {
		for component, payload := range p.discoveryPayloads(b) {
			p.publishJSON(p.discoveryTopic(component, b.Source.CameraID()), payload, true)
		}
	}
}

func (p *HAPublisher) markDirty(cameraID string) {
	p.mu.Lock()
	p.dirty[cameraID] = true
	p.mu.Unlock()

	// Pending wakeups coalesce
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *HAPublisher) markAllDirty() {
	for _, b := range p.bindings {
		p.markDirty(b.Source.CameraID())
	}
}

func (p *HAPublisher) eventLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
			p.mu.Lock()
			dirty := p.dirty
			p.dirty = make(map[string]bool)
			p.mu.Unlock()

			for _, b := range p.bindings {
				if dirty[b.Source.CameraID()] {
					p.publishState(b)
				}
			}
		}
	}
}

// publishState publishes availability, sensor state and attributes, and
// the image bytes when the latest URL changed
func (p *HAPublisher) publishState(b Binding) {
	cameraID := b.Source.CameraID()
	state := b.Source.Data()
	sensor := entity.LatestImageSensor(state, b.Source.LastUpdateSuccess())

	p.publish(p.availabilityTopic(cameraID), onlineOffline(sensor.Available), true)

	value := sensor.Value
	if !sensor.Known() {
		value = unknownPayload
	}
	p.publish(p.sensorStateTopic(cameraID), value, true)
	p.publishJSON(p.sensorAttributesTopic(cameraID), sensor.Attributes, true)

	url := entity.LatestURL(state)
	if url == "" || b.Camera == nil {
		return
	}

	p.mu.Lock()
	unchanged := p.lastURL[cameraID] == url
	p.mu.Unlock()
	if unchanged {
		return
	}

	data, err := b.Camera.Image(p.ctx, state)
	if err != nil {
		p.logger.Warn().Err(err).Str("camera_id", cameraID).Msg("Failed to fetch latest image")
		return
	}
	if len(data) == 0 {
		return
	}

	p.publish(p.cameraImageTopic(cameraID), data, true)

	p.mu.Lock()
	p.lastURL[cameraID] = url
	p.mu.Unlock()
}

// publish is a convenience wrapper that publishes a message and logs errors
func (p *HAPublisher) publish(topic string, payload any, retained bool) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Error().Str("topic", topic).Msg("MQTT publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}

func (p *HAPublisher) publishJSON(topic string, v any, retained bool) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal payload")
		return
	}
	p.publish(topic, data, retained)
}

func onlineOffline(ok bool) string {
	if ok {
		return "online"
	}
	return "offline"
}

// objectID returns the part of an entity id after the platform
func objectID(entityID string) string {
	_, id, ok := strings.Cut(entityID, ".")
	if !ok {
		return entityID
	}
	return id
}
