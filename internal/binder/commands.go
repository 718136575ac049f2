// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package binder

import "encoding/binary"

// Kernel driver command codes (uapi/linux/android/binder.h). The payload
// size of each command is encoded in bits 16-29.
const (
	bcTransaction              = uint32(0x40406300)
	bcReply                    = uint32(0x40406301)
	bcFreeBuffer               = uint32(0x40086303)
	bcIncrefs                  = uint32(0x40046304)
	bcAcquire                  = uint32(0x40046305)
	bcRelease                  = uint32(0x40046306)
	bcDecrefs                  = uint32(0x40046307)
	bcIncrefsDone              = uint32(0x40106308)
	bcAcquireDone              = uint32(0x40106309)
	bcEnterLooper              = uint32(0x0000630c)
	bcExitLooper               = uint32(0x0000630d)
	bcRequestDeathNotification = uint32(0x400c630e)
	bcClearDeathNotification   = uint32(0x400c630f)
	bcDeadBinderDone           = uint32(0x40086310)

	brError                      = uint32(0x80047200)
	brOK                         = uint32(0x00007201)
	brTransactionSecCtx          = uint32(0x80487202)
	brTransaction                = uint32(0x80407202)
	brReply                      = uint32(0x80407203)
	brDeadReply                  = uint32(0x00007205)
	brTransactionComplete        = uint32(0x00007206)
	brIncrefs                    = uint32(0x80107207)
	brAcquire                    = uint32(0x80107208)
	brRelease                    = uint32(0x80107209)
	brDecrefs                    = uint32(0x8010720a)
	brNoop                       = uint32(0x0000720c)
	brSpawnLooper                = uint32(0x0000720d)
	brDeadBinder                 = uint32(0x8008720f)
	brClearDeathNotificationDone = uint32(0x80087210)
	brFailedReply                = uint32(0x00007211)
	brFrozenReply                = uint32(0x00007212)
	brOnewaySpamSuspect          = uint32(0x00007213)
)

// transactionDataSize is sizeof(struct binder_transaction_data) with 64-bit
// binder pointers.
const transactionDataSize = 64

func payloadSize(cmd uint32) int {
	return int(cmd>>16) & 0x3fff
}

// transactionData mirrors struct binder_transaction_data.
type transactionData struct {
	target      uint64
	cookie      uint64
	code        uint32
	flags       uint32
	senderPID   int32
	senderEUID  uint32
	dataSize    uint64
	offsetsSize uint64
	buffer      uint64
	offsets     uint64
}

// cmdBuf accumulates commands for the write half of BINDER_WRITE_READ.
type cmdBuf []byte

func (b *cmdBuf) u32(v uint32) {
	*b = binary.LittleEndian.AppendUint32(*b, v)
}

func (b *cmdBuf) u64(v uint64) {
	*b = binary.LittleEndian.AppendUint64(*b, v)
}

func (b *cmdBuf) transaction(td transactionData) {
	b.u64(td.target)
	b.u64(td.cookie)
	b.u32(td.code)
	b.u32(td.flags)
	b.u32(uint32(td.senderPID))
	b.u32(td.senderEUID)
	b.u64(td.dataSize)
	b.u64(td.offsetsSize)
	b.u64(td.buffer)
	b.u64(td.offsets)
}

// cmdReader walks the read half of BINDER_WRITE_READ.
type cmdReader struct {
	b   []byte
	pos int
	bad bool
}

func (r *cmdReader) more() bool {
	return !r.bad && r.pos+4 <= len(r.b)
}

func (r *cmdReader) take(n int) []byte {
	if r.bad || r.pos+n > len(r.b) {
		r.bad = true
		return make([]byte, n)
	}
	s := r.b[r.pos : r.pos+n]
	r.pos += n
	return s
}

func (r *cmdReader) u32() uint32 {
	return binary.LittleEndian.Uint32(r.take(4))
}

func (r *cmdReader) u64() uint64 {
	return binary.LittleEndian.Uint64(r.take(8))
}

func (r *cmdReader) skip(n int) {
	r.take(n)
}

func (r *cmdReader) transaction() transactionData {
	b := r.take(transactionDataSize)
	return transactionData{
		target:      binary.LittleEndian.Uint64(b[0:]),
		cookie:      binary.LittleEndian.Uint64(b[8:]),
		code:        binary.LittleEndian.Uint32(b[16:]),
		flags:       binary.LittleEndian.Uint32(b[20:]),
		senderPID:   int32(binary.LittleEndian.Uint32(b[24:])),
		senderEUID:  binary.LittleEndian.Uint32(b[28:]),
		dataSize:    binary.LittleEndian.Uint64(b[32:]),
		offsetsSize: binary.LittleEndian.Uint64(b[40:]),
		buffer:      binary.LittleEndian.Uint64(b[48:]),
		offsets:     binary.LittleEndian.Uint64(b[56:]),
	}
}

func encodeOffsets(offsets []uint64) []byte {
	if len(offsets) == 0 {
		return nil
	}
	out := make([]byte, 0, len(offsets)*8)
	for _, o := range offsets {
		out = binary.LittleEndian.AppendUint64(out, o)
	}
	return out
}

// handlesIn returns the remote handles referenced by the objects of a parcel.
func handlesIn(data []byte, offsets []uint64) []uint32 {
	var handles []uint32
	for _, off := range offsets {
		if off+flatObjectSize > uint64(len(data)) {
			continue
		}
		if binary.LittleEndian.Uint32(data[off:]) == typeHandle {
			handles = append(handles, binary.LittleEndian.Uint32(data[off+8:]))
		}
	}
	return handles
}
