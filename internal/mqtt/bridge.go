//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"cosem-go/internal/access"
	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	// Meter names the HA device all objects are grouped under.
	Meter string
}

// scaledObject is implemented by the register classes.
type scaledObject interface {
	Scaled() (float64, cosem.Unit, error)
}

// Bridge publishes object state to MQTT and applies commands received on
// "<prefix>/<object>/set" and "<prefix>/<object>/get".
type Bridge struct {
	client  pahomqtt.Client
	objects *cosem.Collection
	service *access.Service
	events  *access.EventBus
	prefix  string
	meter   string
	logger  *slog.Logger
	unsub   func()

	// Per-object state accumulator.
	mu     sync.Mutex
	states map[string]map[string]any // topic name -> attribute map
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(objects *cosem.Collection, service *access.Service, events *access.EventBus, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		objects: objects,
		service: service,
		events:  events,
		prefix:  cfg.TopicPrefix,
		meter:   cfg.Meter,
		logger:  logger.With("component", "mqtt"),
		states:  make(map[string]map[string]any),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("cosemd-" + meterIdentifier(cfg.Meter)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllDiscovery()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to access events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.events.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix, "objects", b.objects.Len())
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event access.Event) {
	obj, ok := b.objects.Find(event.ClassID, event.LogicalName)
	if !ok {
		return
	}
	switch event.Type {
	case access.EventAttributeRead, access.EventAttributeWritten:
		b.updateAndPublishState(obj, event.Index, event.Value)
	case access.EventMethodInvoked:
		topic := b.prefix + "/" + objectTopicName(event.LogicalName) + "/invoked"
		b.publish(topic, mustJSON(map[string]any{
			"method": event.Index,
			"result": jsonValue(event.Value),
		}), false)
	}
}

func (b *Bridge) updateAndPublishState(obj cosem.Object, index int, v dlms.Value) {
	name := objectTopicName(obj.Identity().LogicalName)

	b.mu.Lock()
	state, ok := b.states[name]
	if !ok {
		state = make(map[string]any)
		b.states[name] = state
	}
	mergeState(state, obj, index, v)
	payload := mustJSON(state)
	b.mu.Unlock()

	b.publish(b.prefix+"/"+name, payload, true)
}

// mergeState records attribute index of obj in state, plus the derived
// fields the discovery templates read.
func mergeState(state map[string]any, obj cosem.Object, index int, v dlms.Value) {
	attrs := obj.Schema().Attributes
	key := fmt.Sprintf("attribute_%d", index)
	if index >= 1 && index <= len(attrs) {
		key = attrs[index-1].Name
	}
	state[key] = jsonValue(v)

	switch o := obj.(type) {
	case scaledObject:
		if n, unit, err := o.Scaled(); err == nil {
			state["scaled"] = n
			state["unit"] = unit.String()
		}
	case *cosem.Clock:
		if d, ok := o.Time(); ok {
			if t, err := d.Time(); err == nil {
				state["time"] = t.Format(time.RFC3339)
			}
		}
	}
	state["last_seen"] = time.Now().UTC().Format(time.RFC3339)
}

// jsonValue converts a value into its JSON form: numbers and booleans stay
// native, containers become arrays and everything else uses the text form.
func jsonValue(v dlms.Value) any {
	switch v.Type() {
	case dlms.TypeNone:
		return nil
	case dlms.TypeBoolean:
		b, _ := v.Bool()
		return b
	case dlms.TypeInt8, dlms.TypeInt16, dlms.TypeInt32, dlms.TypeInt64:
		n, _ := v.Int()
		return n
	case dlms.TypeUInt8, dlms.TypeUInt16, dlms.TypeUInt32, dlms.TypeUInt64, dlms.TypeEnum:
		n, _ := v.Uint()
		return n
	case dlms.TypeFloat32, dlms.TypeFloat64:
		f, _ := v.Float()
		return f
	case dlms.TypeArray, dlms.TypeStructure:
		items, _ := v.Items()
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = jsonValue(it)
		}
		return out
	}
	return v.Text()
}

func (b *Bridge) publishBridgeState(state string) {
	topic := b.prefix + "/bridge/state"
	b.publish(topic, []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	n := 0
	for _, obj := range b.objects.Sorted() {
		for _, msg := range buildDiscovery(obj, b.meter, b.prefix) {
			b.publish(msg.Topic, msg.Payload, true)
			n++
		}
	}
	b.logger.Info("published HA discovery", "meter", b.meter, "entities", n)
}

// RemoveDiscovery withdraws the entities of obj, for objects removed at runtime.
func (b *Bridge) RemoveDiscovery(obj cosem.Object) {
	for _, msg := range buildRemoveDiscovery(obj, b.meter) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.mu.Lock()
	delete(b.states, objectTopicName(obj.Identity().LogicalName))
	b.mu.Unlock()
}

func (b *Bridge) subscribeCommands() {
	for _, action := range []string{"set", "get"} {
		b.client.Subscribe(b.prefix+"/+/"+action, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleCommand(msg.Topic(), msg.Payload())
		})
	}
}

// command is the JSON payload of a set topic. Either an attribute (by
// index or name) is written, or a method is invoked. Value is text in the
// attribute's display type; Type is required for CHOICE attributes and
// method parameters.
type command struct {
	Index     int     `json:"index,omitempty"`
	Attribute string  `json:"attribute,omitempty"`
	Method    int     `json:"method,omitempty"`
	Value     *string `json:"value,omitempty"`
	Type      string  `json:"type,omitempty"`
	All       bool    `json:"all,omitempty"`
}

var errBadCommand = errors.New("bad command")

// parseCommandTopic splits "<prefix>/<object>/<action>".
func parseCommandTopic(prefix, topic string) (cosem.LogicalName, string, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return cosem.LogicalName{}, "", fmt.Errorf("%w: topic %q outside prefix", errBadCommand, topic)
	}
	name, action, ok := strings.Cut(rest, "/")
	if !ok || strings.Contains(action, "/") {
		return cosem.LogicalName{}, "", fmt.Errorf("%w: topic %q", errBadCommand, topic)
	}
	ln, err := parseTopicName(name)
	if err != nil {
		return cosem.LogicalName{}, "", fmt.Errorf("%w: %v", errBadCommand, err)
	}
	return ln, action, nil
}

// commandValue resolves the target index of cmd and parses its value.
func commandValue(obj cosem.Object, cmd command) (int, dlms.Value, error) {
	index := cmd.Index
	if index == 0 && cmd.Attribute != "" {
		index = obj.Schema().FindAttribute(cmd.Attribute)
		if index == 0 {
			return 0, dlms.Value{}, fmt.Errorf("%w: no attribute %q", errBadCommand, cmd.Attribute)
		}
	}
	if cmd.Method != 0 {
		index = cmd.Method
	}
	if index == 0 {
		return 0, dlms.Value{}, fmt.Errorf("%w: no attribute or method", errBadCommand)
	}
	if cmd.Value == nil {
		return index, dlms.NewNone(), nil
	}

	var t dlms.DataType
	switch {
	case cmd.Type != "":
		var err error
		if t, err = dlms.ParseTypeName(cmd.Type); err != nil {
			return 0, dlms.Value{}, fmt.Errorf("%w: %v", errBadCommand, err)
		}
	case cmd.Method == 0:
		d, err := obj.Descriptor(index)
		if err != nil {
			return 0, dlms.Value{}, err
		}
		t = d.DisplayType()
	}
	if t == dlms.TypeNone {
		return 0, dlms.Value{}, fmt.Errorf("%w: type required", errBadCommand)
	}
	v, err := dlms.ParseText(t, *cmd.Value)
	if err != nil {
		return 0, dlms.Value{}, err
	}
	return index, v, nil
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	ln, action, err := parseCommandTopic(b.prefix, topic)
	if err != nil {
		b.logger.Warn("ignoring command", "topic", topic, "err", err)
		return
	}
	obj, ok := b.objects.FindByLogicalName(ln)
	if !ok {
		b.logger.Warn("command for unknown object", "ln", ln)
		return
	}

	var cmd command
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			b.logger.Warn("invalid command JSON", "ln", ln, "err", err)
			return
		}
	}

	if action == "get" {
		for _, r := range b.service.ReadPending(obj, cmd.All) {
			if !r.OK() {
				b.logger.Warn("read failed", "ln", ln, "index", r.Index, "result", r.Result, "err", r.Err)
			}
		}
		return
	}

	index, v, err := commandValue(obj, cmd)
	if err != nil {
		b.logger.Warn("invalid command", "ln", ln, "err", err)
		return
	}
	if cmd.Method != 0 {
		if _, err := b.service.Invoke(obj, index, v); err != nil {
			b.logger.Warn("method failed", "ln", ln, "method", index, "err", err)
		}
		return
	}
	if r := b.service.WriteValue(obj, index, v); !r.OK() {
		b.logger.Warn("write failed", "ln", ln, "index", index, "result", r.Result, "err", r.Err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
