package uapi

// Field locates a bitfield inside a command or result word array.
type Field struct {
	Word  uint8
	Shift uint8
	Width uint8
}

func (f Field) mask() uint32 {
	if f.Width >= 32 {
		return 0xffffffff
	}
	return (1 << f.Width) - 1
}

// Max returns the largest value the field can hold.
func (f Field) Max() uint32 {
	return f.mask()
}

// Get extracts the field from w.
func (f Field) Get(w []uint32) uint32 {
	return (w[f.Word] >> f.Shift) & f.mask()
}

// Set stores v into the field, leaving the rest of the word untouched.
func (f Field) Set(w []uint32, v uint32) {
	m := f.mask()
	w[f.Word] = (w[f.Word] &^ (m << f.Shift)) | ((v & m) << f.Shift)
}

// GetBool and SetBool treat single-bit fields as flags.
func (f Field) GetBool(w []uint32) bool {
	return f.Get(w) != 0
}

func (f Field) SetBool(w []uint32, on bool) {
	if on {
		f.Set(w, 1)
	} else {
		f.Set(w, 0)
	}
}

// Get64 reads a 64-bit value held little word first at w[i], w[i+1].
func Get64(w []uint32, i int) uint64 {
	return uint64(w[i]) | uint64(w[i+1])<<32
}

// Set64 stores v as two words, low word first.
func Set64(w []uint32, i int, v uint64) {
	w[i] = uint32(v)
	w[i+1] = uint32(v >> 32)
}

// Word counts
const (
	PullWords    = 6
	EqDescWords  = 8
	FDWords      = 8
	EntryWords   = 16
	ReleaseWords = 1
)

// Common to every ring command and result: verb byte, valid bit, status byte.
var (
	Verb  = Field{0, 0, 7}
	Valid = Field{0, 7, 1}
	Stat  = Field{0, 8, 8}
)

// Pull (VDQCR) command
var (
	PullDCT       = Field{0, 0, 2}
	PullDT        = Field{0, 2, 2}
	PullRLS       = Field{0, 4, 1}
	PullStash     = Field{0, 5, 1}
	PullNumFrames = Field{0, 8, 4}
	PullToken     = Field{0, 16, 8}
	PullSource    = Field{1, 0, 24}
)

// PullRspAddrWord is the first of the two storage address words.
const PullRspAddrWord = 2

// Enqueue command
var (
	EqCmd       = Field{0, 0, 2}
	EqORPEnable = Field{0, 2, 1}
	EqEQDI      = Field{0, 3, 1}
	EqTargetQD  = Field{0, 4, 1}
	EqDCAIdx    = Field{0, 8, 6}
	EqDCAPark   = Field{0, 14, 1}
	EqDCAEnable = Field{0, 15, 1}
	EqSeqnum    = Field{0, 16, 14}
	EqNLIS      = Field{0, 30, 1}
	EqIsNESN    = Field{0, 31, 1}
	EqORPID     = Field{1, 0, 16}
	EqTarget    = Field{2, 0, 24}
	EqQDBin     = Field{4, 0, 16}
	EqQDPrio    = Field{4, 16, 4}
	EqRspStash  = Field{5, 0, 1}
	EqToken     = Field{5, 8, 8}
)

// EqRspAddrWord is the first of the two response address words; the frame
// descriptor follows the descriptor at EqFDWord.
const (
	EqRspAddrWord = 6
	EqFDWord      = 8
)

// Release command
var (
	RelNum  = Field{0, 0, 3}
	RelRCDI = Field{0, 6, 1}
	RelBPID = Field{0, 16, 16}
)

// RelBufWord is where the first 64-bit buffer address sits in an RCR slot.
const RelBufWord = 2

// Dequeue entry
var (
	DQSeqnum     = Field{0, 16, 14}
	DQODPID      = Field{1, 0, 16}
	DQToken      = Field{1, 24, 8}
	DQFQID       = Field{2, 0, 24}
	DQFrameCount = Field{5, 0, 24}
)

const (
	DQTokenWord     = 1
	DQByteCountWord = 4
	DQCtxLoWord     = 6
	DQCtxHiWord     = 7
	DQFDWord        = 8
)

// Enqueue response
var (
	EqRspResult = Field{0, 8, 8}
	EqRspSeqnum = Field{0, 16, 14}
	EqRspORPID  = Field{1, 0, 16}
	EqRspToken  = Field{1, 24, 8}
	EqRspTarget = Field{2, 0, 24}
)

// Management commands and responses
var (
	MCResult    = Field{0, 8, 8}
	MCFQID      = Field{1, 0, 24}
	MCChannel   = Field{0, 16, 16}
	MCCDANWE    = Field{1, 0, 8}
	MCCDANCtrl  = Field{1, 8, 8}
	MCAcqBPID   = Field{0, 16, 16}
	MCAcqNum    = Field{1, 0, 4}
	MCAcqRspNum = Field{1, 0, 4}
)

const (
	MCCDANCtxWord = 2
	MCAcqBufWord  = 2
)

// Frame descriptor
var (
	FDBPID   = Field{3, 0, 14}
	FDIVP    = Field{3, 14, 1}
	FDOffset = Field{3, 16, 12}
	FDFormat = Field{3, 28, 2}
)

const (
	FDAddrWord = 0
	FDLenWord  = 2
	FDFRCWord  = 4
	FDCtrlWord = 5
	FDFLCWord  = 6
)
