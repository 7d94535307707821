package voice

// Error definitions
var (
	ErrConnection      = NewVoiceError("cannot join voice channel")
	ErrNotConnected    = NewVoiceError("not connected to voice channel")
	ErrSubscription    = NewVoiceError("cannot subscribe to participant audio")
	ErrDecode          = NewVoiceError("cannot decode audio frame")
	ErrWrite           = NewVoiceError("cannot write recording")
	ErrAlreadyActive   = NewVoiceError("participant is already being recorded")
	ErrSessionNotFound = NewVoiceError("recording session not found")
	ErrNoSpeaker       = NewVoiceError("nobody started speaking")
	ErrRecorderClosed  = NewVoiceError("recorder is closed")
)

// VoiceError represents errors specific to voice operations
type VoiceError struct {
	message string
}

func NewVoiceError(message string) *VoiceError {
	return &VoiceError{message: message}
}

func (e *VoiceError) Error() string {
	return e.message
}
