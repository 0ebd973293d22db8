package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultFormat     = EncodingLinear16

	// TelephonySampleRate is the rate used on phone lines, where audio is
	// mulaw encoded.
	TelephonySampleRate = 8000
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: DefaultFormat}
}

func GetTelephonyEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: TelephonySampleRate, Format: EncodingMulaw}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	case EncodingLinear16:
		return 0
	}

	return 0
}

// BytesPerSecond is the size of one second of mono audio.
func (e EncodingInfo) BytesPerSecond() int {
	return e.SampleRate * e.Format.ByteSize()
}

// ChunkSize is the number of bytes holding the given amount of audio.
func (e EncodingInfo) ChunkSize(seconds float64) int {
	return max(int(seconds*float64(e.BytesPerSecond())), 0)
}

// Duration is how long the given number of bytes takes to play.
func (e EncodingInfo) Duration(bytes int) time.Duration {
	bytesPerSecond := e.BytesPerSecond()
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(bytes) / float64(bytesPerSecond) * float64(time.Second))
}

// Silence returns the given amount of silent audio.
func (e EncodingInfo) Silence(duration time.Duration) []byte {
	silence := make([]byte, e.ChunkSize(duration.Seconds()))
	if value := e.SilenceValue(); value != 0 {
		for i := range silence {
			silence[i] = value
		}
	}
	return silence
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

// ParseFormat returns the encoding with the given name, if it is known.
func ParseFormat(name string) (encodingFormat, bool) {
	switch format := encodingFormat(name); format {
	case EncodingMulaw, EncodingALaw, EncodingLinear16:
		return format, true
	}
	return "", false
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
