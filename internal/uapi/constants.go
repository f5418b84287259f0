package uapi

// Cache-enabled (CENA) window layout. Every ring slot is one 64-byte line.
const (
	CENAEQCRBase = 0x000
	CENADQRRBase = 0x200
	CENARCRBase  = 0x400
	CENACR       = 0x600
	CENARRBase   = 0x700
	CENAVDQCR    = 0x780

	LineSize = 64
)

// Cache-inhibited (CINH) register offsets
const (
	CINHEQCRPI  = 0x800
	CINHEQCRCI  = 0x840
	CINHEQCRITR = 0x880
	CINHDQPI    = 0xa00
	CINHDQRRITR = 0xa80
	CINHDCAP    = 0xac0
	CINHSDQCR   = 0xb00
	CINHRCRPI   = 0xc00
	CINHRCRCI   = 0xc40
	CINHRCRITR  = 0xc80
	CINHCFG     = 0xd00
	CINHISR     = 0xe00
	CINHIER     = 0xe40
	CINHISDR    = 0xe80
	CINHIIR     = 0xec0
	CINHITPR    = 0xf40

	CINHSize = 0x1000
	CENASize = 0x800
)

// CENAEQCR returns the offset of enqueue ring slot n.
func CENAEQCR(n uint32) uint32 { return CENAEQCRBase + n*LineSize }

// CENADQRR returns the offset of dequeue response ring slot n.
func CENADQRR(n uint32) uint32 { return CENADQRRBase + n*LineSize }

// CENARCR returns the offset of release ring slot n.
func CENARCR(n uint32) uint32 { return CENARCRBase + n*LineSize }

// CENARR returns the management response register selected by valid bit vb.
func CENARR(vb uint32) uint32 { return CENARRBase + (vb >> 1) }

// ValidBit toggles on every ring wrap and tags slots and commands.
const ValidBit = 0x80

// Result verbs
const (
	VerbMask = 0x7f

	VerbDQ      = 0x60
	VerbFQRN    = 0x21
	VerbFQRNI   = 0x22
	VerbFQPN    = 0x24
	VerbFQDAN   = 0x25
	VerbCDAN    = 0x26
	VerbCSCNMem = 0x27
	VerbCGCU    = 0x28
	VerbBPSCN   = 0x29
	VerbCSCNWQ  = 0x2a
)

// Dequeue result status flags
const (
	StatFQEmpty       = 0x80
	StatHeldActive    = 0x40
	StatForceEligible = 0x20
	StatValidFrame    = 0x10
	StatODPValid      = 0x04
	StatVolatile      = 0x02
	StatExpired       = 0x01
)

// Enqueue command codes (w0 bits 0-1)
const (
	EqCmdEmpty         = 0
	EqCmdRespondAlways = 1
	EqCmdRespondReject = 2
)

// Pull scope types (w0 bits 2-3)
const (
	PullDTChannel = 1
	PullDTWQ      = 2
	PullDTFQ      = 3
)

// Release command verb: the release-valid bit with no other flags
const RCRVerb = 1 << 5

// Management command verbs
const (
	MCAcquire   = 0x30
	MCWQChanCfg = 0x46
	MCFQSched   = 0x48
	MCFQForce   = 0x49
	MCFQXon     = 0x4d
	MCFQXoff    = 0x4e
)

// CDAN write-enable bits
const (
	CDANWEEnable = 0x1
	CDANWECtx    = 0x4
)

// Result codes shared by management responses and enqueue responses
const (
	ResultOK           = 0xf0
	ResultNoSuchObject = 0x01
	ResultBadState     = 0x02
	ResultSeqRejected  = 0x03
)

// SDQCR fields
const (
	SDQCRFrameCount = 1 << 29
	SDQCRDCTShift   = 24
	SDQCRTokShift   = 16
	SDQCRSrcMask    = 0xffff
)

// Interrupt sources
const (
	IntEQRI = 0x01
	IntEQDI = 0x02
	IntDQRI = 0x04
	IntRCRI = 0x08
	IntRCDI = 0x10
	IntVDCI = 0x20

	IntAll = 0x3f
)

// CFG register: written at init, read back to confirm the portal is live
const (
	CFGEnable      = 1 << 0
	CFGDQRRDepthSh = 4
	CFGEQCRStash   = 1 << 8
	CFGRPM         = 1 << 12
)

// InhibitAll is the IIR value that suppresses every interrupt.
const InhibitAll = 0xffffffff
