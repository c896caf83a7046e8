package component

// PortDefinition is the JSON shape of a port in component config. A
// strain reader's socket, a filter's trigger subject and a checkpoint
// bucket all arrive as these before being typed into Port configs.
type PortDefinition struct {
	Name        string `json:"name"                  schema:"readonly,type:string,description:Port identifier"`
	Type        string `json:"type,omitempty"        schema:"readonly,type:string,description:Port type (nats jetstream kv-watch etc)"`
	Subject     string `json:"subject,omitempty"     schema:"editable,type:string,description:NATS subject pattern or network address"`
	Interface   string `json:"interface,omitempty"   schema:"readonly,type:string,description:Interface contract type"`
	Required    bool   `json:"required,omitempty"    schema:"readonly,type:bool,description:Whether port connection is required"`
	Description string `json:"description,omitempty" schema:"readonly,type:string,description:Human-readable port description"`
	Timeout     string `json:"timeout,omitempty"     schema:"editable,type:string,description:Request timeout for request/reply ports"`
	StreamName  string `json:"stream_name,omitempty" schema:"editable,type:string,description:JetStream stream name"`
}

// PortConfig groups the input and output port definitions of one
// component's configuration.
type PortConfig struct {
	Inputs  []PortDefinition `json:"inputs,omitempty"`
	Outputs []PortDefinition `json:"outputs,omitempty"`
}

// MergePortConfigs overlays configured port definitions on a component's
// defaults. A definition matching a default by name replaces it, so a
// deployment can retarget the strain subject without redeclaring every
// other port; unmatched definitions become additional ports.
func MergePortConfigs(defaults []Port, overrides []PortDefinition, direction Direction) []Port {
	result := make([]Port, 0)
	overrideMap := make(map[string]PortDefinition)

	for _, override := range overrides {
		overrideMap[override.Name] = override
	}

	for _, defaultPort := range defaults {
		if override, found := overrideMap[defaultPort.Name]; found {
			result = append(result, BuildPortFromDefinition(override, direction))
			delete(overrideMap, defaultPort.Name)
		} else {
			result = append(result, defaultPort)
		}
	}

	for _, override := range overrideMap {
		result = append(result, BuildPortFromDefinition(override, direction))
	}

	return result
}

// BuildPortFromDefinition types a raw definition into a Port. The Type
// field picks the config shape; anything unrecognised is treated as
// plain NATS pub/sub, which is the dominant pattern in a search graph.
func BuildPortFromDefinition(def PortDefinition, direction Direction) Port {
	port := Port{
		Name:        def.Name,
		Direction:   direction,
		Required:    def.Required,
		Description: def.Description,
	}

	switch def.Type {
	case "jetstream":
		port.Config = JetStreamPort{
			StreamName: def.StreamName,
			// A definition carries one subject; the port type takes a list.
			Subjects: []string{def.Subject},
		}
	case "nats-request":
		timeout := def.Timeout
		if timeout == "" {
			timeout = "1s"
		}
		port.Config = NATSRequestPort{
			Subject: def.Subject,
			Timeout: timeout,
		}
	case "kv-watch", "kvwatch":
		// For KV ports the Subject field holds the bucket name.
		port.Config = KVWatchPort{
			Bucket: def.Subject,
		}
	case "kv-write", "kvwrite":
		port.Config = KVWritePort{
			Bucket:    def.Subject,
			Interface: contractFor(def.Interface),
		}
	default:
		port.Config = NATSPort{
			Subject:   def.Subject,
			Interface: contractFor(def.Interface),
		}
	}

	return port
}

// contractFor wraps a non-empty interface name in a v1 contract.
func contractFor(name string) *InterfaceContract {
	if name == "" {
		return nil
	}
	return &InterfaceContract{
		Type:    name,
		Version: "v1",
	}
}
