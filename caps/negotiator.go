// Package caps negotiates the H.264 carriage codec with the client
// from its advertised RDPEGFX capability sets.
package caps

import (
	"errors"

	"go.uber.org/zap"

	"github.com/krdpgfx/core/internal/rdpgfx"
)

// ErrVideoInitFailed is returned when no advertised capset supports
// even AVC420 in YUV420 mode.
var ErrVideoInitFailed = errors.New("video init failed: no capset supports AVC420/YUV420")

// Wants captures the two session-level codec preference booleans read
// once at session construction from upstream configuration; the core
// itself never reads environment variables.
type Wants struct {
	WantsAVC444v2 bool
	WantsAVC444   bool

	// LocalAVC444EncodingAvailable gates whether a non-420 codec can
	// actually be encoded locally, regardless of what the client wants.
	LocalAVC444EncodingAvailable bool
}

// Result is the negotiator's decision.
type Result struct {
	SelectedCodec rdpgfx.Codec
	WinningCapset rdpgfx.Capset
}

// Negotiator derives capsets, picks a codec, and builds the confirm PDU.
type Negotiator struct {
	log *zap.SugaredLogger
}

// New creates a Negotiator.
func New(log *zap.SugaredLogger) *Negotiator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Negotiator{log: log}
}

// DeriveCapsets annotates each advertised capset with the codec support
// implied by its version and flags.
func DeriveCapsets(advertised []rdpgfx.Capset) []rdpgfx.Capset {
	out := make([]rdpgfx.Capset, len(advertised))
	for i, c := range advertised {
		out[i] = deriveOne(c)
	}
	return out
}

func deriveOne(c rdpgfx.Capset) rdpgfx.Capset {
	switch c.Version {
	case rdpgfx.CapVersion107, rdpgfx.CapVersion106, rdpgfx.CapVersion105, rdpgfx.CapVersion104:
		c.YUV420Supported = true
		fallthrough
	case rdpgfx.CapVersion103, rdpgfx.CapVersion102, rdpgfx.CapVersion101, rdpgfx.CapVersion10:
		if c.Flags&rdpgfx.CapsFlagAVCDisabled == 0 {
			c.AVCSupported = true
			if c.Version >= rdpgfx.CapVersion101 {
				c.AVC444Supported = true
				c.AVC444v2Supported = true
			}
		}
	case rdpgfx.CapVersion81:
		if c.Flags&rdpgfx.CapsFlagAVC420Enabled != 0 {
			c.AVCSupported = true
			c.YUV420Supported = true
		}
	case rdpgfx.CapVersion8:
		// no H.264 support at all
	}
	return c
}

// Negotiate derives capsets, chooses the preferred codec subject to
// local encoder support, and picks the highest-version capset
// supporting it, falling back to AVC420.
func (n *Negotiator) Negotiate(advertised []rdpgfx.Capset, wants Wants) (Result, error) {
	derived := DeriveCapsets(advertised)

	for _, c := range derived {
		n.log.Debugw("received capset", "version", c.Version, "avc", c.AVCSupported, "yuv420", c.YUV420Supported)
	}

	preferred := preferredCodec(wants)

	if capset, ok := bestCapsetFor(derived, preferred); ok {
		n.log.Debugw("selected codec", "codec", preferred.String(), "capsetVersion", capset.Version)
		return Result{SelectedCodec: preferred, WinningCapset: capset}, nil
	}

	if preferred != rdpgfx.CodecAVC420 {
		if capset, ok := bestCapsetFor(derived, rdpgfx.CodecAVC420); ok {
			n.log.Debugw("downgraded codec to AVC420", "capsetVersion", capset.Version)
			return Result{SelectedCodec: rdpgfx.CodecAVC420, WinningCapset: capset}, nil
		}
	}

	n.log.Warnw("client does not support H.264 in YUV420 mode")
	return Result{}, ErrVideoInitFailed
}

func preferredCodec(wants Wants) rdpgfx.Codec {
	switch {
	case wants.WantsAVC444v2 && wants.LocalAVC444EncodingAvailable:
		return rdpgfx.CodecAVC444v2
	case wants.WantsAVC444 && wants.LocalAVC444EncodingAvailable:
		return rdpgfx.CodecAVC444
	default:
		return rdpgfx.CodecAVC420
	}
}

// bestCapsetFor returns the highest-version capset among those
// supporting codec.
func bestCapsetFor(capsets []rdpgfx.Capset, codec rdpgfx.Codec) (rdpgfx.Capset, bool) {
	var best rdpgfx.Capset
	found := false
	for _, c := range capsets {
		if !supports(c, codec) {
			continue
		}
		if !found || c.Version > best.Version {
			best = c
			found = true
		}
	}
	return best, found
}

func supports(c rdpgfx.Capset, codec rdpgfx.Codec) bool {
	if !c.AVCSupported || !c.YUV420Supported {
		return false
	}
	switch codec {
	case rdpgfx.CodecAVC444:
		return c.AVC444Supported
	case rdpgfx.CodecAVC444v2:
		return c.AVC444v2Supported
	default:
		return true
	}
}
