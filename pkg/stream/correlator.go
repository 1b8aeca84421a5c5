package stream

// UnknownToolName labels tool results whose invocation was never observed.
// Correlation misses degrade to this sentinel, never to a dropped event.
const UnknownToolName = "unknown"

// Correlator maps tool invocation ids to the tool names that created them.
// Entries are write-once; the map lives as long as one session's processor
// and is never shared across sessions.
type Correlator struct {
	names map[string]string
}

// NewCorrelator creates an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{names: make(map[string]string)}
}

// Register records the tool name for an invocation id. Later registrations
// for the same id are ignored.
func (c *Correlator) Register(id, name string) {
	if id == "" || name == "" {
		return
	}
	if _, ok := c.names[id]; !ok {
		c.names[id] = name
	}
}

// Lookup returns the tool name registered for id, or UnknownToolName.
func (c *Correlator) Lookup(id string) string {
	if name, ok := c.names[id]; ok {
		return name
	}
	return UnknownToolName
}
