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
	"encoding/json"
	"testing"
)

var testKey = []byte("0123456789abcdef")

func TestEnvelopeCRCDeterministic(t *testing.T) {
	a := envelopeCRC([]byte("hello tuya"))
	b := envelopeCRC([]byte("hello tuya"))
	if a != b {
		t.Fatalf("envelopeCRC not deterministic: %d != %d", a, b)
	}
	c := envelopeCRC([]byte("hello Tuya"))
	if a == c {
		t.Fatalf("envelopeCRC collided on different input")
	}
}

func TestEncodeDecodeControlRoundTrip(t *testing.T) {
	frame := encodeControl(42, "dev123", testKey, "3.3", 1, true)

	if len(frame) < 24 {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}

	dec, ok := decodeFrame(frame, testKey, "3.3")
	if !ok {
		t.Fatalf("decodeFrame rejected a frame we just built")
	}
	if dec.Code != CmdControl {
		t.Errorf("Code = %d, want %d", dec.Code, CmdControl)
	}
	if dec.Sequence != 42 {
		t.Errorf("Sequence = %d, want 42", dec.Sequence)
	}

	var payload struct {
		DevID string          `json:"devId"`
		Dps   map[string]bool `json:"dps"`
	}
	if err := json.Unmarshal(dec.Payload, &payload); err != nil {
		t.Fatalf("payload did not parse as JSON: %s (%q)", err, dec.Payload)
	}
	if payload.DevID != "dev123" {
		t.Errorf("devId = %q, want dev123", payload.DevID)
	}
	if !payload.Dps["1"] {
		t.Errorf("dps[1] = false, want true")
	}
}

func TestEncodeDecodeQueryRoundTrip(t *testing.T) {
	frame := encodeQuery(7, "dev456", testKey, "3.3")

	dec, ok := decodeFrame(frame, testKey, "3.3")
	if !ok {
		t.Fatalf("decodeFrame rejected a query frame we just built")
	}
	if dec.Code != CmdQuery {
		t.Errorf("Code = %d, want %d", dec.Code, CmdQuery)
	}

	var payload struct {
		DevID string `json:"devId"`
	}
	if err := json.Unmarshal(dec.Payload, &payload); err != nil {
		t.Fatalf("payload did not parse as JSON: %s (%q)", err, dec.Payload)
	}
	if payload.DevID != "dev456" {
		t.Errorf("devId = %q, want dev456", payload.DevID)
	}
}

func TestDecodeFrameRejectsBadPrefix(t *testing.T) {
	frame := encodeQuery(1, "dev", testKey, "3.3")
	frame[0] ^= 0xff
	if _, ok := decodeFrame(frame, testKey, "3.3"); ok {
		t.Fatalf("decodeFrame accepted a corrupted prefix")
	}
}

func TestDecodeFrameRejectsBadSuffix(t *testing.T) {
	frame := encodeQuery(1, "dev", testKey, "3.3")
	frame[len(frame)-1] ^= 0xff
	if _, ok := decodeFrame(frame, testKey, "3.3"); ok {
		t.Fatalf("decodeFrame accepted a corrupted suffix")
	}
}

func TestDecodeFrameRejectsShortBuffer(t *testing.T) {
	if _, ok := decodeFrame([]byte{0, 1, 2}, testKey, "3.3"); ok {
		t.Fatalf("decodeFrame accepted a buffer shorter than the minimum envelope")
	}
}

func TestDecodeFrameRejectsTruncatedLength(t *testing.T) {
	frame := encodeQuery(1, "dev", testKey, "3.3")
	// Claim a length far larger than what's actually present.
	frame[12], frame[13], frame[14], frame[15] = 0x7f, 0xff, 0xff, 0xff
	if _, ok := decodeFrame(frame, testKey, "3.3"); ok {
		t.Fatalf("decodeFrame accepted a frame whose length field overruns the buffer")
	}
}

func TestDecodeFrameWrongKeyDoesNotPanic(t *testing.T) {
	frame := encodeQuery(1, "dev", testKey, "3.3")
	wrongKey := []byte("fedcba9876543210")
	// Decryption under the wrong key "succeeds" structurally (AES has no MAC)
	// but PKCS#7 unpadding should very likely reject the garbage padding, or
	// the JSON unmarshal downstream would. We only assert the codec doesn't
	// panic and returns some result either way.
	_, _ = decodeFrame(frame, wrongKey, "3.3")
}
