//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"cosem-go/internal/cosem"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/cosem_meter1/1_0_1_8_0_255/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a sensor discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	Device            haDevice `json:"device"`
}

// unitClass is how a scaler_unit unit maps onto HA sensor metadata.
type unitClass struct {
	deviceClass string
	stateClass  string
}

var unitClasses = map[cosem.Unit]unitClass{
	cosem.UnitWattHour:   {"energy", "total_increasing"},
	cosem.UnitVarHour:    {"", "total_increasing"},
	cosem.UnitWatt:       {"power", "measurement"},
	cosem.UnitVoltAmpere: {"apparent_power", "measurement"},
	cosem.UnitVar:        {"reactive_power", "measurement"},
	cosem.UnitVolt:       {"voltage", "measurement"},
	cosem.UnitAmpere:     {"current", "measurement"},
	cosem.UnitHertz:      {"frequency", "measurement"},
	cosem.UnitCelsius:    {"temperature", "measurement"},
	cosem.UnitCubicMetre: {"gas", "total_increasing"},
}

// objectTopicName returns the topic segment of an object: its logical name
// with dots replaced so the segment is safe in entity ids too.
func objectTopicName(ln cosem.LogicalName) string {
	return strings.ReplaceAll(ln.String(), ".", "_")
}

// parseTopicName is the inverse of objectTopicName.
func parseTopicName(s string) (cosem.LogicalName, error) {
	return cosem.ParseLogicalName(strings.ReplaceAll(s, "_", "."))
}

// meterIdentifier returns the unique identifier for the HA device registry.
func meterIdentifier(meter string) string {
	name := strings.ToLower(meter)
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
	return "cosem_" + name
}

// objectDisplayName prefers the description and falls back to type and name.
func objectDisplayName(id cosem.Identity) string {
	if id.Description != "" {
		return id.Description
	}
	return fmt.Sprintf("%s %s", id.Type, id.LogicalName)
}

// buildDiscovery generates HA discovery messages for one object. Registers
// become sensors reporting their scaled value; Data objects and clocks
// become sensors reporting their raw value.
func buildDiscovery(obj cosem.Object, meter, prefix string) []discoveryMsg {
	id := obj.Identity()
	if !id.HasLogicalName {
		return nil
	}

	nodeID := meterIdentifier(meter)
	objectID := objectTopicName(id.LogicalName)
	cfg := haDiscovery{
		Name:              objectDisplayName(id),
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        prefix + "/" + objectID,
		AvailabilityTopic: prefix + "/bridge/state",
		ValueTemplate:     "{{ value_json.value }}",
		Device: haDevice{
			Identifiers: []string{nodeID},
			Model:       "COSEM meter",
			Name:        meter,
		},
	}

	switch o := obj.(type) {
	case scaledObject:
		cfg.ValueTemplate = "{{ value_json.scaled }}"
		if _, unit, err := o.Scaled(); err == nil {
			cfg.UnitOfMeasurement = unit.String()
			if c, ok := unitClasses[unit]; ok {
				cfg.DeviceClass = c.deviceClass
				cfg.StateClass = c.stateClass
			}
		}
	case *cosem.Data:
	case *cosem.Clock:
		cfg.ValueTemplate = "{{ value_json.time }}"
	default:
		return nil
	}

	topic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, objectID)
	return []discoveryMsg{{Topic: topic, Payload: mustJSON(cfg)}}
}

// buildRemoveDiscovery generates empty payloads that remove the entities of obj.
func buildRemoveDiscovery(obj cosem.Object, meter string) []discoveryMsg {
	id := obj.Identity()
	if !id.HasLogicalName {
		return nil
	}
	topic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", meterIdentifier(meter), objectTopicName(id.LogicalName))
	return []discoveryMsg{{Topic: topic, Payload: []byte{}}}
}
