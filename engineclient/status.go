package engineclient

// EngineStatus is the health of a single engine endpoint as last observed by its handle
type EngineStatus string

const (
	StatusSynced     EngineStatus = "synced"
	StatusSyncing    EngineStatus = "syncing"
	StatusOffline    EngineStatus = "offline"
	StatusAuthFailed EngineStatus = "auth_failed"
)

// rank orders engines for sequential requests, lower is tried first
func (s EngineStatus) rank() int {
	switch s {
	case StatusSynced:
		return 0
	case StatusSyncing:
		return 1
	case StatusOffline:
		return 2
	default:
		return 3
	}
}

// IsUsable is false for engines that cannot answer until reconfigured
func (s EngineStatus) IsUsable() bool {
	return s != StatusAuthFailed
}

func (s EngineStatus) String() string {
	return string(s)
}

// StatusListener is invoked after an engine's status changed
type StatusListener func(engine string, from, to EngineStatus)
