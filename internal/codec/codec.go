// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package codec implements the Frame Codec (C2): decoding a byte buffer,
// start-byte framed and described by a schema.Registry, into a sequence of
// Frame records. See spec section 4.2 for the wire format.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sufst/intermediate-server/internal/schema"
)

// Disposition errors, per spec section 7. A FramingError aborts only the
// remainder of the buffer currently being decoded; callers continue on the
// next delivery.
var (
	ErrFraming   = errors.New("framing error")
	ErrUnknownPDU = errors.New("unknown pdu")
	ErrShortFrame = errors.New("short frame")
)

const validBitfieldWidth = 4 // u32

// Frame is one decoded PDU. Epoch is only set when the PDU itself carries
// an epoch field (schema.PDU.HasEpochField); otherwise it is left zero and
// the ingestion pipeline (C4) is responsible for stamping wall-clock time —
// the codec itself never reads the clock (spec section 4.2).
type Frame struct {
	PDUName string
	Epoch   float64
	HasEpoch bool
	Fields  map[string]float64
}

// Decode decodes exactly one PDU starting at buf[0]. It returns the decoded
// Frame and the number of bytes consumed. It does not attempt
// resynchronisation: callers that want to skip a malformed buffer must
// discard it themselves (spec section 9, open question 1).
func Decode(reg *schema.Registry, buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, fmt.Errorf("%w: buffer too short for header", ErrShortFrame)
	}

	if buf[0] != reg.StartByte() {
		return Frame{}, 0, fmt.Errorf("%w: bad start byte 0x%02x", ErrFraming, buf[0])
	}

	pduID := buf[1]
	pdu, err := reg.Lookup(pduID)
	if err != nil {
		return Frame{}, 0, fmt.Errorf("%w: pdu_id %d", ErrUnknownPDU, pduID)
	}

	remaining := len(buf) - 2
	if remaining < pdu.FixedLength {
		return Frame{}, 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortFrame, pdu.FixedLength, remaining)
	}

	cursor := 2
	validBitfield := binary.LittleEndian.Uint32(buf[cursor : cursor+validBitfieldWidth])
	cursor += validBitfieldWidth

	frame := Frame{
		PDUName: pdu.Name,
		Fields:  make(map[string]float64, len(pdu.Fields)),
	}

	for i, f := range pdu.Fields {
		valid := (validBitfield>>uint(i))&1 != 0
		fieldBuf := buf[cursor : cursor+f.Width]
		cursor += f.Width

		if !valid {
			continue
		}

		value := f.Decode(fieldBuf)
		if f.IsEpoch {
			frame.Epoch = value
			frame.HasEpoch = true
			continue
		}
		frame.Fields[f.Name] = value
	}

	return frame, 2 + pdu.FixedLength, nil
}

// DecodeStream decodes every complete PDU in buf in order, invoking handler
// for each. A FramingError/UnknownPDU/ShortFrame aborts the remainder of
// buf — the already-decoded frames from earlier in buf are still reported
// via handler before the error is returned (spec section 4.2 step 5,
// section 9 open question 1).
func DecodeStream(reg *schema.Registry, buf []byte, handler func(Frame)) error {
	cursor := 0
	for cursor < len(buf) {
		frame, consumed, err := Decode(reg, buf[cursor:])
		if err != nil {
			return err
		}
		handler(frame)
		cursor += consumed
	}
	return nil
}
