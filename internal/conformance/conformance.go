// Package conformance cross-validates a webm.MuxSession's finalized
// output against an independent third-party EBML parser
// (github.com/remko/go-mkvparse), as the wire format spec requires
// bit-exact compatibility with the reference WebM tooling.
package conformance

import (
	"bytes"
	"fmt"

	"github.com/remko/go-mkvparse"
)

// Report summarizes what the independent parser saw.
type Report struct {
	Clusters    int
	TrackEntries int
	SimpleBlocks int
	DocType     string
}

type countingHandler struct {
	mkvparse.DefaultHandler
	report Report
}

func (h *countingHandler) HandleMasterBegin(id mkvparse.ElementID, info mkvparse.ElementInfo) (bool, error) {
	switch id {
	case mkvparse.ClusterElement:
		h.report.Clusters++
	case mkvparse.TrackEntryElement:
		h.report.TrackEntries++
	}
	return true, nil
}

func (h *countingHandler) HandleString(id mkvparse.ElementID, value string, info mkvparse.ElementInfo) error {
	if id == mkvparse.DocTypeElement {
		h.report.DocType = value
	}
	return nil
}

func (h *countingHandler) HandleBinary(id mkvparse.ElementID, value []byte, info mkvparse.ElementInfo) error {
	if id == mkvparse.SimpleBlockElement {
		h.report.SimpleBlocks++
	}
	return nil
}

// Validate runs src through go-mkvparse and reports the structural
// counts it observed. A read error here means the output is not a
// well-formed WebM/Matroska stream by an implementation other than
// this one — the strongest check this module can offer short of a
// byte-for-byte libwebm comparison.
func Validate(src []byte) (Report, error) {
	h := &countingHandler{}
	if err := mkvparse.Parse(bytes.NewReader(src), h); err != nil {
		return Report{}, fmt.Errorf("go-mkvparse rejected the stream: %w", err)
	}
	return h.report, nil
}
