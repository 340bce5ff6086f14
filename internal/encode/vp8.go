// Package encode wraps the VP8 (libvpx) and Opus encoders used by
// webmtool's synth subcommand to produce real codec bitstreams for
// webm.MuxSession to carry, instead of placeholder bytes.
package encode

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/Azunyan1111/libvpx-go/vpx"

	"github.com/webmforge/webmforge/internal/xlog"
)

// ColorMatrix selects the RGB->YUV coefficient set used when the
// source frames are RGBA. BT.601 is the SD standard and what most
// synthetic/test generators assume; BT.709 matches HD camera sources.
type ColorMatrix int

const (
	ColorMatrixBT601 ColorMatrix = iota
	ColorMatrixBT709
)

// yuvCoeffs holds the fixed-point RGB->YUV conversion coefficients for
// a ColorMatrix, scaled by 256 the way libyuv and most software
// converters do to keep the inner loop in integer arithmetic.
type yuvCoeffs struct {
	yr, yg, yb int
	ur, ug, ub int
	vr, vg, vb int
}

func coeffsFor(matrix ColorMatrix) yuvCoeffs {
	switch matrix {
	case ColorMatrixBT709:
		return yuvCoeffs{
			yr: 47, yg: 157, yb: 16,
			ur: -26, ug: -87, ub: 112,
			vr: 112, vg: -102, vb: -10,
		}
	default:
		return yuvCoeffs{
			yr: 66, yg: 129, yb: 25,
			ur: -38, ug: -74, ub: 112,
			vr: 112, vg: -94, vb: -18,
		}
	}
}

// EncoderOptions configures a VP8Encoder. Zero-value fields fall back
// to sane realtime-streaming defaults.
type EncoderOptions struct {
	Width, Height int
	// PixelFormat is "I420"/"YUV420P" or "RGBA"; RGBA is assumed when
	// unset.
	PixelFormat string
	// ColorMatrix selects the RGBA->YUV coefficients; ignored for
	// planar input. Defaults to BT.601.
	ColorMatrix ColorMatrix
	// TargetBitrateKbps defaults to 1000.
	TargetBitrateKbps uint32
	// FrameRate defaults to 30fps.
	FrameRate int
	// KeyframeInterval caps frames between automatic keyframes;
	// defaults to FrameRate.
	KeyframeInterval uint32
	MinQuantizer     uint32
	MaxQuantizer     uint32
	// MaxEncodeThreads caps GThreads; defaults to 4, clamped to
	// runtime.NumCPU().
	MaxEncodeThreads int
}

func (o EncoderOptions) withDefaults() EncoderOptions {
	if o.TargetBitrateKbps == 0 {
		o.TargetBitrateKbps = 1000
	}
	if o.FrameRate <= 0 {
		o.FrameRate = 30
	}
	if o.KeyframeInterval == 0 {
		o.KeyframeInterval = uint32(o.FrameRate)
	}
	if o.MaxQuantizer == 0 {
		o.MinQuantizer, o.MaxQuantizer = 4, 48
	}
	if o.MaxEncodeThreads <= 0 {
		o.MaxEncodeThreads = 4
	}
	return o
}

// VP8Encoder wraps a libvpx VP8 encoder instance bound to one frame
// size. Not safe for concurrent use.
type VP8Encoder struct {
	ctx         *vpx.CodecCtx
	img         *vpx.Image
	opts        EncoderOptions
	coeffs      yuvCoeffs
	pts         int64
}

// NewVP8Encoder allocates a VP8 encoder per opts.
func NewVP8Encoder(opts EncoderOptions) (*VP8Encoder, error) {
	opts = opts.withDefaults()
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("encode: width and height must be positive")
	}

	threads := clampThreads(opts.MaxEncodeThreads)

	cfg, err := buildEncCfg(opts, threads)
	if err != nil {
		return nil, err
	}

	ctx := vpx.NewCodecCtx()
	if ctx == nil {
		return nil, fmt.Errorf("encode: failed to create codec context")
	}
	iface := vpx.EncoderIfaceVP8()
	if iface == nil {
		vpx.CodecDestroy(ctx)
		return nil, fmt.Errorf("encode: failed to get VP8 encoder interface")
	}
	if err := vpx.Error(vpx.CodecEncConfigDefault(iface, cfg, 0)); err != nil {
		vpx.CodecDestroy(ctx)
		return nil, fmt.Errorf("encode: default encoder config: %w", err)
	}
	cfg.Deref()
	applyEncCfg(cfg, opts, threads)

	if err := vpx.Error(vpx.CodecEncInitVer(ctx, iface, cfg, 0, vpx.EncoderABIVersion)); err != nil {
		vpx.CodecDestroy(ctx)
		return nil, fmt.Errorf("encode: init encoder: %w", err)
	}

	img := vpx.ImageAlloc(nil, vpx.ImageFormatI420, uint32(opts.Width), uint32(opts.Height), 1)
	if img == nil {
		vpx.CodecDestroy(ctx)
		return nil, fmt.Errorf("encode: failed to allocate image")
	}
	img.Deref()

	xlog.Debugf("encode: VP8 %dx%d bitrate=%dkbps fps=%d matrix=%v threads=%d",
		opts.Width, opts.Height, opts.TargetBitrateKbps, opts.FrameRate, opts.ColorMatrix, threads)

	return &VP8Encoder{
		ctx:    ctx,
		img:    img,
		opts:   opts,
		coeffs: coeffsFor(opts.ColorMatrix),
	}, nil
}

func clampThreads(requested int) int {
	n := requested
	if avail := runtime.NumCPU(); n > avail {
		n = avail
	}
	if n < 1 {
		n = 1
	}
	return n
}

// buildEncCfg returns an empty config struct for the caller to fill
// via CodecEncConfigDefault; splitting allocation from tuning keeps
// NewVP8Encoder's native-resource cleanup paths linear.
func buildEncCfg(opts EncoderOptions, threads int) (*vpx.CodecEncCfg, error) {
	if threads < 1 {
		return nil, fmt.Errorf("encode: thread count must be positive")
	}
	return &vpx.CodecEncCfg{}, nil
}

func applyEncCfg(cfg *vpx.CodecEncCfg, opts EncoderOptions, threads int) {
	cfg.GW = uint32(opts.Width)
	cfg.GH = uint32(opts.Height)
	cfg.GTimebase = vpx.Rational{Num: 1, Den: int32(opts.FrameRate)}
	cfg.RcTargetBitrate = opts.TargetBitrateKbps
	cfg.GPass = vpx.RcOnePass
	cfg.RcEndUsage = vpx.Cbr
	cfg.KfMode = vpx.KfAuto
	cfg.KfMaxDist = opts.KeyframeInterval
	cfg.GThreads = uint32(threads)
	cfg.GLagInFrames = 0
	cfg.RcMinQuantizer = opts.MinQuantizer
	cfg.RcMaxQuantizer = opts.MaxQuantizer
	cfg.GProfile = 0
}

// Encode submits one raw frame and returns the compressed bitstream
// and whether it landed on a keyframe.
func (e *VP8Encoder) Encode(frameData []byte) ([]byte, bool, error) {
	if err := e.loadFrame(frameData); err != nil {
		return nil, false, err
	}

	if err := vpx.Error(vpx.CodecEncode(e.ctx, e.img, vpx.CodecPts(e.pts), 1, 0, vpx.DlRealtime)); err != nil {
		return nil, false, fmt.Errorf("encode: encode frame: %w (detail: %s)", err, vpx.CodecErrorDetail(e.ctx))
	}
	e.pts++

	var iter vpx.CodecIter
	pkt := vpx.CodecGetCxData(e.ctx, &iter)
	if pkt == nil {
		return nil, false, nil
	}
	pkt.Deref()
	if pkt.Kind != vpx.CodecCxFramePkt {
		return nil, false, nil
	}
	return pkt.GetFrameData(), pkt.IsKeyframe(), nil
}

func (e *VP8Encoder) loadFrame(frameData []byte) error {
	w, h := int(e.img.DW), int(e.img.DH)
	switch e.opts.PixelFormat {
	case "YUV420P", "I420":
		if want := w * h * 3 / 2; len(frameData) != want {
			return fmt.Errorf("encode: planar frame size %d, want %d", len(frameData), want)
		}
		e.copyPlanar(frameData)
	default:
		if want := w * h * 4; len(frameData) != want {
			return fmt.Errorf("encode: RGBA frame size %d, want %d", len(frameData), want)
		}
		e.convertRGBA(frameData)
	}
	return nil
}

// planeBuffers returns byte slices over the encoder's Y/U/V planes,
// sized to their strides rather than the logical frame dimensions so
// row copies can stay stride-aware.
func (e *VP8Encoder) planeBuffers() (y, u, v []byte, yStride, uStride, vStride int) {
	h := int(e.img.DH)
	yStride = int(e.img.Stride[vpx.PlaneY])
	uStride = int(e.img.Stride[vpx.PlaneU])
	vStride = int(e.img.Stride[vpx.PlaneV])
	y = (*(*[1 << 30]byte)(unsafe.Pointer(e.img.Planes[vpx.PlaneY])))[:yStride*h]
	u = (*(*[1 << 30]byte)(unsafe.Pointer(e.img.Planes[vpx.PlaneU])))[:uStride*h/2]
	v = (*(*[1 << 30]byte)(unsafe.Pointer(e.img.Planes[vpx.PlaneV])))[:vStride*h/2]
	return
}

// convertRGBA downsamples 2x2 RGBA blocks into the I420 image using
// the encoder's configured ColorMatrix.
func (e *VP8Encoder) convertRGBA(rgba []byte) {
	w, h := int(e.img.DW), int(e.img.DH)
	yPlane, uPlane, vPlane, yStride, uStride, vStride := e.planeBuffers()
	c := e.coeffs

	lumaAt := func(base int) byte {
		r, g, b := int(rgba[base]), int(rgba[base+1]), int(rgba[base+2])
		return clampToByte(((c.yr*r+c.yg*g+c.yb*b+128)>>8)+16, 16, 235)
	}

	for row := 0; row < h; row += 2 {
		row1 := row + 1
		hasRow1 := row1 < h
		yRow0, yRow1 := row*yStride, row1*yStride
		uvRow, vvRow := (row/2)*uStride, (row/2)*vStride

		for col := 0; col < w; col += 2 {
			idx00 := (row*w+col)*4
			yPlane[yRow0+col] = lumaAt(idx00)

			col1 := col + 1
			if col1 < w {
				yPlane[yRow0+col1] = lumaAt(idx00 + 4)
			}
			if hasRow1 {
				idx10 := (row1*w+col)*4
				yPlane[yRow1+col] = lumaAt(idx10)
				if col1 < w {
					yPlane[yRow1+col1] = lumaAt(idx10 + 4)
				}
			}

			r00, g00, b00 := int(rgba[idx00]), int(rgba[idx00+1]), int(rgba[idx00+2])
			uvCol := col / 2
			uPlane[uvRow+uvCol] = clampToByte(((c.ur*r00+c.ug*g00+c.ub*b00+128)>>8)+128, 16, 240)
			vPlane[vvRow+uvCol] = clampToByte(((c.vr*r00+c.vg*g00+c.vb*b00+128)>>8)+128, 16, 240)
		}
	}
}

func clampToByte(v, lo, hi int) byte {
	if v < lo {
		return byte(lo)
	}
	if v > hi {
		return byte(hi)
	}
	return byte(v)
}

// copyPlanar copies an already-planar YUV420P buffer into the I420
// image, row by row to respect libvpx's plane strides.
func (e *VP8Encoder) copyPlanar(yuv []byte) {
	w, h := int(e.img.DW), int(e.img.DH)
	yPlane, uPlane, vPlane, yStride, uStride, vStride := e.planeBuffers()

	ySize := w * h
	uvSize := ySize / 4
	srcY := yuv[:ySize]
	srcU := yuv[ySize : ySize+uvSize]
	srcV := yuv[ySize+uvSize : ySize+2*uvSize]

	copyRows := func(dst []byte, dstStride int, src []byte, rows, cols int) {
		for row := 0; row < rows; row++ {
			copy(dst[row*dstStride:row*dstStride+cols], src[row*cols:(row+1)*cols])
		}
	}
	copyRows(yPlane, yStride, srcY, h, w)
	copyRows(uPlane, uStride, srcU, h/2, w/2)
	copyRows(vPlane, vStride, srcV, h/2, w/2)
}

// Close releases the encoder's native resources.
func (e *VP8Encoder) Close() {
	if e.img != nil {
		vpx.ImageFree(e.img)
		e.img = nil
	}
	if e.ctx != nil {
		vpx.CodecDestroy(e.ctx)
		e.ctx = nil
	}
}
