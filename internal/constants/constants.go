package constants

import "time"

// Ring geometry
const (
	// EQCRDepth is the number of enqueue command ring slots
	EQCRDepth = 8

	// RCRDepth is the number of release command ring slots
	RCRDepth = 8

	// DQRRDepthV4000 is the dequeue response ring depth before revision 4.1
	DQRRDepthV4000 = 4

	// DQRRDepthV4100 is the dequeue response ring depth from revision 4.1
	DQRRDepthV4100 = 8

	// MaxPullFrames is the largest frame count a single pull may request
	MaxPullFrames = 16

	// MaxReleaseBuffers is the largest number of buffers per release or acquire
	MaxReleaseBuffers = 7

	// PushChannels is the number of channel indices usable for push dequeues
	PushChannels = 16
)

// Portal revisions
const (
	RevisionV4000 = 0x04000000
	RevisionV4100 = 0x04010000
)

// Management command tuning
const (
	// DefaultMCPollBudget is the number of response-register reads attempted
	// before a management command is reported as not ready
	DefaultMCPollBudget = 1024
)

// Interrupt coalescing
const (
	// DefaultTimeoutQuantumNs is the dequeue interrupt timeout quantum (ns)
	DefaultTimeoutQuantumNs = 256

	// MaxTimeoutUnits is the largest value the holdoff field can hold
	MaxTimeoutUnits = 0xfff
)

// Runner timing
const (
	// IdleWaitTimeout bounds how long an idle runner parks on its interrupt
	// waiter before polling again
	IdleWaitTimeout = 10 * time.Millisecond

	// IdleSpinPolls is the number of empty polls before a runner parks
	IdleSpinPolls = 64
)

// Push dequeue defaults
const (
	// SDQCRToken is the token stamped on push dequeue results
	SDQCRToken = 0xbb
)
