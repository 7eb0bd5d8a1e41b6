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
	"crypto/aes"
	"crypto/md5"
	"sync"
)

// discoveryPassword is the fixed ASCII literal every Tuya device uses to key
// its UDP 6667 beacons.
const discoveryPassword = "yGAdlopoPVldABfn"

var (
	discoveryKeyOnce sync.Once
	discoveryKeyVal  []byte
)

// discoveryKey returns the MD5 digest of discoveryPassword, computed once and
// cached for the life of the process.
func discoveryKey() []byte {
	discoveryKeyOnce.Do(func() {
		sum := md5.Sum([]byte(discoveryPassword))
		discoveryKeyVal = sum[:]
	})
	return discoveryKeyVal
}

// aesEncryptECB encrypts clear with key (must be 16 bytes) under AES-128-ECB,
// PKCS#7-padding clear to a multiple of the block size first. Returns nil if
// key is the wrong length.
func aesEncryptECB(key, clear []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil
	}
	bs := block.BlockSize()
	padded := pkcs7Pad(clear, bs)
	out := make([]byte, len(padded))
	for off := 0; off < len(padded); off += bs {
		block.Encrypt(out[off:off+bs], padded[off:off+bs])
	}
	return out
}

// aesDecryptECB decrypts cipherText under AES-128-ECB and strips PKCS#7
// padding. Returns nil on any structural failure (wrong key length, cipherText
// not a multiple of the block size) rather than panicking — callers treat a
// nil result as "discard this message".
func aesDecryptECB(key, cipherText []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil
	}
	bs := block.BlockSize()
	if len(cipherText) == 0 || len(cipherText)%bs != 0 {
		return nil
	}
	clear := make([]byte, len(cipherText))
	for off := 0; off < len(cipherText); off += bs {
		block.Decrypt(clear[off:off+bs], cipherText[off:off+bs])
	}
	return pkcs7Unpad(clear)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte{}, data...), padding...)
}

// pkcs7Unpad only trusts the padding byte when it is in [1,16] and no larger
// than the buffer, otherwise it leaves the buffer untouched.
func pkcs7Unpad(clear []byte) []byte {
	n := len(clear)
	if n == 0 {
		return clear
	}
	last := clear[n-1]
	if last > 0 && last <= 16 && int(last) <= n {
		clear = clear[:n-int(last)]
	}
	return clear
}
