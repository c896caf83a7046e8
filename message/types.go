package message

import "fmt"

// Keyable is anything that renders as a dotted semantic key. Dotted
// keys drive NATS subject construction and wildcard subscriptions
// throughout the platform.
type Keyable interface {
	// Key returns the dotted form, e.g. "search.strain.v1" or
	// "search.event.v1".
	Key() string
}

// Type identifies a message's domain, category and schema version.
// Constants live in the packages that own the payloads; this package
// only defines the shape:
//
//	var StrainMessage = message.Type{
//	    Domain:   "search",
//	    Category: "strain",
//	    Version:  "v1",
//	}
type Type struct {
	// Domain groups related traffic, "search" for pipeline payloads
	// and "core" for platform plumbing.
	Domain string

	// Category names the payload within the domain: "strain",
	// "trigger", "event", "watermark".
	Category string

	// Version is the schema version, "v1", "v2" and so on. Bump it on
	// incompatible payload changes.
	Version string
}

// Key renders the type as "domain.category.version", satisfying
// Keyable.
func (mt Type) Key() string {
	return fmt.Sprintf("%s.%s.%s", mt.Domain, mt.Category, mt.Version)
}

// String returns the same as Key().
func (mt Type) String() string {
	return mt.Key()
}

// IsValid reports whether all three fields are populated.
func (mt Type) IsValid() bool {
	return mt.Domain != "" && mt.Category != "" && mt.Version != ""
}

// Equal reports field-by-field equality.
func (mt Type) Equal(other Type) bool {
	return mt.Domain == other.Domain &&
		mt.Category == other.Category &&
		mt.Version == other.Version
}
