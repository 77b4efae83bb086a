package ib

import "firestige.xyz/ibdissect/internal/core/wire"

// Trailer holds the checksums found after the payload. They are exposed,
// never verified.
type Trailer struct {
	ICRC *uint32 `json:"icrc,omitempty" yaml:"icrc,omitempty"`
	VCRC *uint16 `json:"vcrc,omitempty" yaml:"vcrc,omitempty"`
}

// Len returns the number of trailer bytes located.
func (t Trailer) Len() int {
	n := 0
	if t.ICRC != nil {
		n += icrcLen
	}
	if t.VCRC != nil {
		n += vcrcLen
	}
	return n
}

func (t Trailer) String() string {
	switch {
	case t.ICRC != nil && t.VCRC != nil:
		return "icrc+vcrc"
	case t.ICRC != nil:
		return "icrc"
	case t.VCRC != nil:
		return "vcrc"
	}
	return ""
}

// locateTrailer reads the trailer from whatever the reported length leaves
// after the cursor. Any remainder other than 6, 4 or 2 bytes means an
// earlier step already accounted for the trailer, and nothing is exposed.
func locateTrailer(r *wire.Reader) Trailer {
	n := r.Reported()
	switch n {
	case icrcLen + vcrcLen, icrcLen, vcrcLen:
	default:
		return Trailer{}
	}

	// A fresh cursor, so a failure in an earlier header does not stick.
	tr := r.Sub(n)
	var t Trailer
	if n >= icrcLen {
		v := tr.U32()
		if tr.Err() == nil {
			t.ICRC = &v
		}
	}
	if n != icrcLen {
		v := tr.U16()
		if tr.Err() == nil {
			t.VCRC = &v
		}
	}
	return t
}
