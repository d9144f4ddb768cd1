// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package codec

import (
	"errors"

	"github.com/sufst/intermediate-server/internal/schema"
)

// Decoder adds a per-Transport carry buffer in front of the stateless
// Decode/DecodeStream primitives. Per spec section 9 (open question /
// required enhancement 5), a production transport cannot guarantee that
// every delivered buffer ends on a PDU boundary, so a trailing partial PDU
// is held here until the next Feed call completes it.
//
// A Decoder is not safe for concurrent use; the transport factory (C3)
// already serialises on_bytes delivery per endpoint (spec section 4.3), so
// each Transport owns exactly one Decoder.
type Decoder struct {
	reg   *schema.Registry
	carry []byte
}

// NewDecoder returns a Decoder bound to reg.
func NewDecoder(reg *schema.Registry) *Decoder {
	return &Decoder{reg: reg}
}

// Feed appends b to the carry buffer and decodes every complete PDU it now
// contains. Any undecoded trailing bytes (a partial PDU, or an empty
// buffer) are retained for the next call. A FramingError/UnknownPDU/
// ShortFrame discards the remainder of the *current* delivery — consistent
// with spec section 4.2's "no resynchronisation" contract — but, unlike a
// bare Decode call, a ShortFrame at the very end of the buffer is treated
// as "wait for more bytes" rather than an error, since that is exactly the
// shape of a TCP read landing mid-PDU.
func (d *Decoder) Feed(b []byte) ([]Frame, error) {
	d.carry = append(d.carry, b...)

	var frames []Frame
	cursor := 0
	for cursor < len(d.carry) {
		frame, consumed, err := Decode(d.reg, d.carry[cursor:])
		if err != nil {
			if IsShortFrame(err) {
				// Not an error: keep the partial PDU for the next Feed.
				break
			}
			// FramingError / UnknownPDU: drop the rest of this delivery,
			// including the bytes already consumed without a full PDU.
			d.carry = d.carry[:0]
			return frames, err
		}
		frames = append(frames, frame)
		cursor += consumed
	}

	remaining := len(d.carry) - cursor
	if remaining == 0 {
		d.carry = d.carry[:0]
	} else {
		d.carry = append(d.carry[:0], d.carry[cursor:]...)
	}

	return frames, nil
}

// IsShortFrame reports whether err is (or wraps) ErrShortFrame.
func IsShortFrame(err error) bool {
	return errors.Is(err, ErrShortFrame)
}
