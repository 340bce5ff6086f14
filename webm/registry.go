package webm

// Codec Registry (spec.md 4.6): the closed set of codec identifiers this
// profile allows, populated once at init and never mutated (spec.md 5).
const (
	CodecVP8    = "V_VP8"
	CodecVP9    = "V_VP9"
	CodecAV1    = "V_AV1"
	CodecOpus   = "A_OPUS"
	CodecVorbis = "A_VORBIS"
)

var videoCodecs = map[string]bool{
	CodecVP8: true,
	CodecVP9: true,
	CodecAV1: true,
}

var audioCodecs = map[string]bool{
	CodecOpus:   true,
	CodecVorbis: true,
}

// IsVideoCodec reports whether id is a registered video codec.
func IsVideoCodec(id string) bool { return videoCodecs[id] }

// IsAudioCodec reports whether id is a registered audio codec.
func IsAudioCodec(id string) bool { return audioCodecs[id] }
