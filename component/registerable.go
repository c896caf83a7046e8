package component

// Registerable lets a component describe itself to the registry. Every
// pipeline stage implements it so the runtime can discover ports,
// schema and payload contracts without construction.
type Registerable interface {
	Registration() Registration
}
