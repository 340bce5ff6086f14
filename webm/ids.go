package webm

import "github.com/webmforge/webmforge/ebml"

// Element IDs used by the WebM profile (spec.md 6). Values already
// carry their EBML length marker as part of their numeric identity.
const (
	idEBML             ebml.ElementID = 0x1A45DFA3
	idEBMLVersion      ebml.ElementID = 0x4286
	idEBMLReadVersion  ebml.ElementID = 0x42F7
	idEBMLMaxIDLength  ebml.ElementID = 0x42F2
	idEBMLMaxSizeLen   ebml.ElementID = 0x42F3
	idDocType          ebml.ElementID = 0x4282
	idDocTypeVersion   ebml.ElementID = 0x4287
	idDocTypeReadVer   ebml.ElementID = 0x4285
	idSegment          ebml.ElementID = 0x18538067
	idSegmentInfo      ebml.ElementID = 0x1549A966
	idTimecodeScale    ebml.ElementID = 0x2AD7B1
	idDuration         ebml.ElementID = 0x4489
	idMuxingApp        ebml.ElementID = 0x4D80
	idWritingApp       ebml.ElementID = 0x5741
	idTracks           ebml.ElementID = 0x1654AE6B
	idTrackEntry       ebml.ElementID = 0xAE
	idTrackNumber      ebml.ElementID = 0xD7
	idTrackType        ebml.ElementID = 0x83
	idCodecID          ebml.ElementID = 0x86
	idName             ebml.ElementID = 0x536E
	idLanguage         ebml.ElementID = 0x22B59C
	idVideo            ebml.ElementID = 0xE0
	idPixelWidth       ebml.ElementID = 0xB0
	idPixelHeight      ebml.ElementID = 0xBA
	idAudio            ebml.ElementID = 0xE1
	idSamplingFreq     ebml.ElementID = 0xB5
	idChannels         ebml.ElementID = 0x9F
	idBitDepth         ebml.ElementID = 0x6264
	idCluster          ebml.ElementID = 0x1F43B675
	idTimecode         ebml.ElementID = 0xE7
	idSimpleBlock      ebml.ElementID = 0xA3
	idBlockGroup       ebml.ElementID = 0xA0
	idBlock            ebml.ElementID = 0xA1
	idReferenceBlock   ebml.ElementID = 0xFB
	idVoid             ebml.ElementID = 0xEC
	idSeekHead         ebml.ElementID = 0x114D9B74
	idCues             ebml.ElementID = 0x1C53BB6B
	idDefaultDuration  ebml.ElementID = 0x23E383
)
