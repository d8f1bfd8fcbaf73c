package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateUnloaded - Plugin is not loaded.
	StateUnloaded State = iota

	// StateLoading - Plugin's entry file is running.
	StateLoading

	// StateLoaded - Plugin code ran and its triggers are registered.
	StateLoaded

	// StateError - Plugin failed to load.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsUsable returns true if the plugin's callbacks can be invoked.
func (s State) IsUsable() bool {
	return s == StateLoaded
}
