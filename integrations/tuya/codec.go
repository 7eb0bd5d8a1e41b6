// Copyright ©2020 Steve Merrony

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.

// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package tuya

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Command codes carried in the envelope's cmd field.
const (
	CmdControl = 7
	CmdStatus  = 8
	CmdQuery   = 10
	CmdUpdate  = 18
)

const (
	framePrefix  uint32 = 0x000055aa
	frameSuffix  uint32 = 0x0000aa55
	extHeaderLen        = 15
)

// DefaultVersion is the protocol version this codec speaks; 3.4's HMAC
// trailer is not implemented.
const DefaultVersion = "3.3"

// encodeControl builds a CONTROL frame commanding dps to value for the given
// device id, encrypted under key, carrying seq in the envelope.
func encodeControl(seq uint32, id string, key []byte, version string, dps int, value bool) []byte {
	payload := []byte(fmt.Sprintf(`{"devId":"%s","uid":"%s","t":"%d","dps":{"%d":%t}}`,
		id, id, time.Now().Unix(), dps, value))
	return encodeFrame(seq, CmdControl, key, version, payload, true)
}

// encodeQuery builds a QUERY frame for the given device id.
func encodeQuery(seq uint32, id string, key []byte, version string) []byte {
	payload := []byte(fmt.Sprintf(`{"devId":"%s","uid":"%s","t":"%d"}`, id, id, time.Now().Unix()))
	return encodeFrame(seq, CmdQuery, key, version, payload, false)
}

// encodeFrame assembles prefix/seq/cmd/length/[ext header]/payload/crc/suffix.
// The extended header is omitted for QUERY/UPDATE per §4.C.
func encodeFrame(seq, cmd uint32, key []byte, version string, payload []byte, withExtHeader bool) []byte {
	enc := payload
	if key != nil {
		if e := aesEncryptECB(key, payload); e != nil {
			enc = e
		}
	}

	var body bytes.Buffer
	if withExtHeader {
		hdr := make([]byte, extHeaderLen)
		copy(hdr, version)
		body.Write(hdr)
	}
	body.Write(enc)

	// length field = bytes remaining after the length word itself, i.e.
	// body + crc(4) + suffix(4).
	length := uint32(body.Len() + 8)

	var frame bytes.Buffer
	binary.Write(&frame, binary.BigEndian, framePrefix)
	binary.Write(&frame, binary.BigEndian, seq)
	binary.Write(&frame, binary.BigEndian, cmd)
	binary.Write(&frame, binary.BigEndian, length)
	frame.Write(body.Bytes())

	crc := envelopeCRC(frame.Bytes()[4:])
	binary.Write(&frame, binary.BigEndian, crc)
	binary.Write(&frame, binary.BigEndian, frameSuffix)

	return frame.Bytes()
}

// decoded is the result of decodeFrame: the usable JSON payload plus the
// envelope fields the caller needs to route the frame.
type decoded struct {
	Code     uint32
	Sequence uint32
	Payload  []byte
}

// decodeFrame validates prefix/suffix, locates the payload per §4.C's
// return-code-vs-no-return-code branch, decrypts if key is non-nil, and
// strips the extended header if version's bytes open the payload, either in
// clear ahead of the ciphertext or at the start of the decrypted text. It
// returns ok=false on any structural failure; CRC is deliberately not
// checked (Tuya peers don't check it either).
func decodeFrame(raw []byte, key []byte, version string) (d decoded, ok bool) {
	if len(raw) < 24 {
		return d, false
	}
	prefix := binary.BigEndian.Uint32(raw[0:4])
	if prefix != framePrefix {
		return d, false
	}
	suffix := binary.BigEndian.Uint32(raw[len(raw)-4:])
	if suffix != frameSuffix {
		return d, false
	}
	seq := binary.BigEndian.Uint32(raw[4:8])
	cmd := binary.BigEndian.Uint32(raw[8:12])
	length := binary.BigEndian.Uint32(raw[12:16])
	total := int(length) + 16
	if total > len(raw) {
		return d, false
	}

	word := binary.BigEndian.Uint32(raw[16:20])
	var encStart, encEnd int
	if word&0xffffff00 != 0 {
		// no explicit return-code word, this is already payload
		encStart, encEnd = 16, total-8
	} else {
		encStart, encEnd = 20, total-8
	}
	if encEnd < encStart || encEnd > len(raw) {
		return d, false
	}
	enc := raw[encStart:encEnd]

	// Frames built with withExtHeader carry the header in clear ahead of the
	// encrypted payload; drop it before decrypting.
	if version != "" && len(enc) >= extHeaderLen {
		vbuf := make([]byte, extHeaderLen)
		copy(vbuf, version)
		if bytes.Equal(enc[:extHeaderLen], vbuf) {
			enc = enc[extHeaderLen:]
		}
	}

	var clear []byte
	if key != nil {
		clear = aesDecryptECB(key, enc)
		if clear == nil {
			return d, false
		}
	} else {
		clear = append([]byte{}, enc...)
	}

	if version != "" && len(clear) >= extHeaderLen {
		vbuf := make([]byte, extHeaderLen)
		copy(vbuf, version)
		if bytes.Equal(clear[:extHeaderLen], vbuf) {
			clear = clear[extHeaderLen:]
		}
	}

	return decoded{Code: cmd, Sequence: seq, Payload: clear}, true
}
