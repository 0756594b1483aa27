package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"stripcast/internal/ble"
	"stripcast/internal/config"
	"stripcast/internal/core"
	"stripcast/internal/frame"
)

// Deps are the agent hooks the bridge reads from and writes to.
type Deps struct {
	Commands chan<- core.Command
	Strips   func() []ble.DeviceInfo
	Stats    func() frame.Stats
}

// Bridge mirrors strip state to a broker and accepts commands from it.
type Bridge struct {
	client        mqtt.Client
	cfg           config.MQTTConfig
	deps          Deps
	prefix        string
	statsInterval time.Duration
	log           zerolog.Logger
}

// NewBridge returns nil when the bridge is disabled.
func NewBridge(cfg config.MQTTConfig, deps Deps, log zerolog.Logger) *Bridge {
	if !cfg.Enabled {
		return nil
	}
	b := &Bridge{
		cfg:           cfg,
		deps:          deps,
		prefix:        strings.TrimSuffix(cfg.TopicPrefix, "/"),
		statsInterval: config.Duration(cfg.StatsInterval),
		log:           log.With().Str("component", "mqtt").Logger(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	// Keep retrying at startup so a broker that comes up later is still reached.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)

	opts.SetWill(b.topic("availability"), "offline", 1, true)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.log.Warn().Err(err).Msg("connection lost, retrying in background")
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		b.log.Info().Msg("reconnecting")
	})

	b.client = mqtt.NewClient(opts)
	return b
}

func (b *Bridge) topic(sub string) string { return b.prefix + "/" + sub }

// Connect starts the connection loop and waits for the first attempt.
func (b *Bridge) Connect() error {
	if b == nil || b.client == nil {
		return nil
	}
	b.log.Info().Str("broker", b.cfg.Broker).Msg("connecting")
	token := b.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// Disconnect publishes offline and closes the connection.
func (b *Bridge) Disconnect() {
	if b == nil || b.client == nil || !b.client.IsConnected() {
		return
	}
	token := b.client.Publish(b.topic("availability"), 1, true, "offline")
	if !token.WaitTimeout(2 * time.Second) {
		b.log.Warn().Msg("timed out publishing offline status")
	} else if token.Error() != nil {
		b.log.Warn().Err(token.Error()).Msg("failed to publish offline status")
	}
	b.client.Disconnect(250)
	b.log.Info().Msg("disconnected")
}

// Publish sends payload to <prefix>/<sub> without blocking the caller.
func (b *Bridge) Publish(sub string, payload any, retained bool) {
	if b == nil || b.client == nil || !b.client.IsConnected() {
		return
	}
	topic := b.topic(sub)
	token := b.client.Publish(topic, 0, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.log.Warn().Str("topic", topic).Msg("publish timed out")
		} else if token.Error() != nil {
			b.log.Warn().Err(token.Error()).Str("topic", topic).Msg("publish failed")
		}
	}()
}

func (b *Bridge) publishJSON(sub string, v any, retained bool) {
	data, err := json.Marshal(v)
	if err != nil {
		b.log.Error().Err(err).Str("topic", sub).Msg("marshal")
		return
	}
	b.Publish(sub, data, retained)
}

// PublishStrips sends the retained strip snapshot.
func (b *Bridge) PublishStrips() {
	strips := []ble.DeviceInfo{}
	if b.deps.Strips != nil {
		strips = append(strips, b.deps.Strips()...)
	}
	b.publishJSON("strips", strips, true)
}

// Run mirrors discovery events and render stats until ctx ends.
func (b *Bridge) Run(ctx context.Context, events <-chan ble.DiscoveryEvent) {
	if b == nil {
		return
	}
	interval := b.statsInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			b.Publish("events", e.Message(), false)
			if e.Structural() {
				b.PublishStrips()
			}
		case <-ticker.C:
			if b.deps.Stats != nil {
				b.publishJSON("stats", b.deps.Stats(), false)
			}
		}
	}
}

// onConnect runs on paho's event goroutine after every (re)connect.
func (b *Bridge) onConnect(client mqtt.Client) {
	b.log.Info().Msg("connected to broker")

	topics := map[string]mqtt.MessageHandler{
		b.topic("pattern/set"): b.handlePatternSet,
		b.topic("strip/+/set"): b.handleStripSet,
	}
	for topic, handler := range topics {
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			b.log.Error().Err(token.Error()).Str("topic", topic).Msg("subscribe failed")
		} else {
			b.log.Debug().Str("topic", topic).Msg("subscribed")
		}
	}

	go func() {
		b.Publish("availability", "online", true)
		b.PublishStrips()
	}()
}

func (b *Bridge) dispatch(cmd core.Command) {
	if b.deps.Commands == nil {
		return
	}
	select {
	case b.deps.Commands <- cmd:
	default:
		b.log.Warn().Str("command", string(cmd.Type)).Msg("command queue full, dropping")
	}
}

// handlePatternSet accepts a pattern name, or "stop"/"" to clear it.
func (b *Bridge) handlePatternSet(_ mqtt.Client, msg mqtt.Message) {
	name := strings.TrimSpace(string(msg.Payload()))
	if name == "" || strings.EqualFold(name, "stop") {
		b.dispatch(core.Command{Type: core.CmdStopPattern})
		return
	}
	b.dispatch(core.Command{Type: core.CmdSetPattern, Pattern: name})
}

// handleStripSet accepts connect or disconnect on <prefix>/strip/<id>/set.
func (b *Bridge) handleStripSet(_ mqtt.Client, msg mqtt.Message) {
	id, ok := b.stripIDFromTopic(msg.Topic())
	if !ok {
		b.log.Warn().Str("topic", msg.Topic()).Msg("bad strip topic")
		return
	}
	switch strings.ToLower(strings.TrimSpace(string(msg.Payload()))) {
	case "connect", "on", "1":
		b.dispatch(core.Command{Type: core.CmdConnectStrip, StripID: id})
	case "disconnect", "off", "0":
		b.dispatch(core.Command{Type: core.CmdDisconnectStrip, StripID: id})
	default:
		b.log.Warn().Str("payload", string(msg.Payload())).Int("strip", id).Msg("unknown strip command")
	}
}

func (b *Bridge) stripIDFromTopic(topic string) (int, bool) {
	rest, ok := strings.CutPrefix(topic, b.topic("strip/"))
	if !ok {
		return 0, false
	}
	idStr, ok := strings.CutSuffix(rest, "/set")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
