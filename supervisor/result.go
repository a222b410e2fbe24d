package supervisor

import (
	"fmt"
	"time"
)

// Result is the outcome of one trace epoch
type Result struct {
	Status
	Spawner int    // pid of the traced spawner
	Error   string // detailed error for setup and wait failures

	Children int // children taken under trace
	Elevated int // children whose capset was patched
	Denied   int // children that reached capset without trust

	RunningTime time.Duration
}

func (r Result) String() string {
	switch r.Status {
	case StatusShutdown, StatusSpawnerExited, StatusSpawnerSignaled:
		return fmt.Sprintf("Result[%v spawner=%d][children=%d elevated=%d denied=%d][%v]",
			r.Status, r.Spawner, r.Children, r.Elevated, r.Denied, r.RunningTime)

	default:
		return fmt.Sprintf("Result[%v(%s) spawner=%d][children=%d elevated=%d denied=%d][%v]",
			r.Status, r.Error, r.Spawner, r.Children, r.Elevated, r.Denied, r.RunningTime)
	}
}
