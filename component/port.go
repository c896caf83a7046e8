package component

import (
	"encoding/json"
	"fmt"

	"github.com/tanghyd/spiir-search/errors"
)

// Direction distinguishes a port that consumes data from one that
// produces it.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Port describes one I/O surface of a component. A strain reader
// exposes a network input port and a NATS output port; the flow graph
// connects ports by matching their configs.
type Port struct {
	Name        string    `json:"name"`
	Direction   Direction `json:"direction"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
	Config      Portable  `json:"config"`
}

// Portable is the common surface of every port config type.
type Portable interface {
	ResourceID() string // identifier for conflict detection
	IsExclusive() bool  // whether multiple components can share the resource
	Type() string       // port type discriminator
}

// InterfaceContract declares the payload type a port carries, so the
// flow graph can reject a trigger consumer wired to a strain producer.
type InterfaceContract struct {
	Type       string   `json:"type"`                 // e.g. "message.TriggerSet"
	Version    string   `json:"version,omitempty"`    // e.g. "v1"
	Compatible []string `json:"compatible,omitempty"` // also accepted
}

// MarshalJSON wraps the Portable config in a {type, data} envelope so
// the concrete type survives the round trip through discovery payloads.
func (p Port) MarshalJSON() ([]byte, error) {
	type PortAlias Port // breaks marshal recursion

	wrapper := struct {
		PortAlias
		Config json.RawMessage `json:"config"`
	}{
		PortAlias: (PortAlias)(p),
	}

	if p.Config != nil {
		configWithType := struct {
			Type string `json:"type"`
			Data any    `json:"data"`
		}{
			Type: p.Config.Type(),
			Data: p.Config,
		}

		configBytes, err := json.Marshal(configWithType)
		if err != nil {
			return nil, errors.Wrap(err, "Port", "MarshalJSON", "config marshaling")
		}
		wrapper.Config = configBytes
	}

	return json.Marshal(wrapper)
}

// UnmarshalJSON reverses MarshalJSON, dispatching on the type
// discriminator to reconstruct the concrete Portable.
func (p *Port) UnmarshalJSON(data []byte) error {
	type PortAlias Port

	temp := struct {
		*PortAlias
		Config json.RawMessage `json:"config"`
	}{
		PortAlias: (*PortAlias)(p),
	}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	if len(temp.Config) > 0 {
		var configWrapper struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}

		if err := json.Unmarshal(temp.Config, &configWrapper); err != nil {
			return errors.Wrap(err, "Port", "UnmarshalJSON", "config wrapper unmarshaling")
		}

		config, err := decodePortConfig(configWrapper.Type, configWrapper.Data)
		if err != nil {
			return err
		}
		p.Config = config
	}

	return nil
}

// decodePortConfig resolves a type discriminator to its concrete port
// config. Unknown discriminators fail rather than degrade to an untyped
// port.
func decodePortConfig(typeName string, data json.RawMessage) (Portable, error) {
	switch typeName {
	case "network":
		return unmarshalPortConfig[NetworkPort](data, "network config unmarshaling")
	case "nats":
		return unmarshalPortConfig[NATSPort](data, "nats config unmarshaling")
	case "nats-request":
		return unmarshalPortConfig[NATSRequestPort](data, "nats-request config unmarshaling")
	case "file":
		return unmarshalPortConfig[FilePort](data, "file config unmarshaling")
	case "jetstream":
		return unmarshalPortConfig[JetStreamPort](data, "jetstream config unmarshaling")
	case "kvwatch":
		return unmarshalPortConfig[KVWatchPort](data, "kvwatch config unmarshaling")
	case "kvwrite":
		return unmarshalPortConfig[KVWritePort](data, "kvwrite config unmarshaling")
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown config type: %s", typeName),
			"Port",
			"UnmarshalJSON",
			"config type validation",
		)
	}
}

func unmarshalPortConfig[C Portable](data json.RawMessage, action string) (Portable, error) {
	var config C
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "Port", "UnmarshalJSON", action)
	}
	return config, nil
}
