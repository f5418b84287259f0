package qbman

import (
	"github.com/ehrlich-b/go-qbman/internal/constants"
	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// Re-export constants for public API
const (
	EQCRDepth               = constants.EQCRDepth
	RCRDepth                = constants.RCRDepth
	MaxPullFrames           = constants.MaxPullFrames
	MaxReleaseBuffers       = constants.MaxReleaseBuffers
	PushChannels            = constants.PushChannels
	RevisionV4000           = constants.RevisionV4000
	RevisionV4100           = constants.RevisionV4100
	DefaultTimeoutQuantumNs = constants.DefaultTimeoutQuantumNs
	DefaultMCPollBudget     = constants.DefaultMCPollBudget
)

// Interrupt sources, usable as masks with the Interrupt* methods
const (
	InterruptEQRI uint32 = uapi.IntEQRI // enqueue ring below threshold
	InterruptEQDI uint32 = uapi.IntEQDI // enqueue completed (per-command opt-in)
	InterruptDQRI uint32 = uapi.IntDQRI // dequeue results pending
	InterruptRCRI uint32 = uapi.IntRCRI // release ring below threshold
	InterruptRCDI uint32 = uapi.IntRCDI // release completed (per-command opt-in)
	InterruptVDCI uint32 = uapi.IntVDCI // volatile dequeue completed
)

// Dequeue result status flags
const (
	DQStatFQEmpty       uint8 = uapi.StatFQEmpty
	DQStatHeldActive    uint8 = uapi.StatHeldActive
	DQStatForceEligible uint8 = uapi.StatForceEligible
	DQStatValidFrame    uint8 = uapi.StatValidFrame
	DQStatODPValid      uint8 = uapi.StatODPValid
	DQStatVolatile      uint8 = uapi.StatVolatile
	DQStatExpired       uint8 = uapi.StatExpired
)

// Enqueue response result codes
const (
	EqResultOK           uint8 = uapi.ResultOK
	EqResultNoSuchTarget uint8 = uapi.ResultNoSuchObject
	EqResultRejected     uint8 = uapi.ResultSeqRejected
)
