package protocol

import "time"

// Audio format shared by every stage of the pipeline.
const (
	SampleRate    = 16000
	Channels      = 1
	FrameDuration = 20 * time.Millisecond
	FrameSize     = SampleRate / 50 // 320 samples
)

// Wire format.
const (
	DeviceIDLength   = 8
	HeaderLength     = DeviceIDLength + 4 + 1
	MaxPacketSize    = 256
	MaxPayloadSize   = MaxPacketSize - HeaderLength
	SilenceThreshold = 10
	ProbeByte        = 0xAA
)

// Network defaults.
const (
	AudioPort      = 5005
	MulticastGroup = "239.255.0.100"
	MulticastTTL   = 1
	IGMPRefresh    = 60 * time.Second
	RecvTimeout    = 100 * time.Millisecond
)

// Pipeline and session timing.
const (
	AECChunkSize     = 512
	AcousticDelay    = 1280 // 80 ms of samples
	ReferenceCap     = 2048 // 128 ms of samples
	RxQueueDepth     = 15
	RxIdleTimeout    = 500 * time.Millisecond
	CallLockout      = 2000 * time.Millisecond
	Heartbeat        = 30 * time.Second
	LeadInFrames     = 15
	TrailOutFrames   = 10
	DefaultBitrate   = 32000
	MaxSustainFrames = 600
	SyncSustainLimit = 150
)

// AllRooms is the broadcast call/target token.
const AllRooms = "All Rooms"
