package supervisor

// Status is why a trace epoch ended
type Status int

// Result status of a supervisor epoch
const (
	StatusInvalid Status = iota // 0 not initialized

	// StatusShutdown means the running flag was cleared
	StatusShutdown

	// spawner lost
	StatusSpawnerExited   // exited normally
	StatusSpawnerSignaled // killed by a signal
	StatusSpawnerLost     // a ptrace request on the spawner failed

	// supervisor errors
	StatusSetupFailed // could not attach or configure the spawner
	StatusDesync      // the spawner reported a stop the supervisor cannot explain
	StatusPanic       // a handler panicked
)

var (
	statusString = []string{
		"invalid",
		"shutdown",
		"spawner exited",
		"spawner signaled",
		"spawner lost",
		"setup failed",
		"desynchronized",
		"supervisor panic",
	}
)

func (t Status) String() string {
	i := int(t)
	if i >= 0 && i < len(statusString) {
		return statusString[i]
	}
	return statusString[0]
}

func (t Status) Error() string {
	return t.String()
}

// Restart reports whether a new epoch should follow.
func (t Status) Restart() bool {
	return t != StatusShutdown
}
