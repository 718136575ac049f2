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

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

var (
	// ErrShortParcel is returned when a read runs past the end of the parcel.
	ErrShortParcel = errors.New("binder: parcel too short")

	// ErrNullString is returned by ReadString16 for a null string.
	ErrNullString = errors.New("binder: null string16")

	// ErrBadInterfaceHeader is returned when an interface token does not
	// carry the header its protocol requires.
	ErrBadInterfaceHeader = errors.New("binder: bad interface token header")
)

// Flattened binder object layout (struct flat_binder_object).
const (
	typeBinder = uint32(0x73622a85) // BINDER_TYPE_BINDER
	typeHandle = uint32(0x73682a85) // BINDER_TYPE_HANDLE

	flatBinderFlags = uint32(0x7f | 0x100) // lowest priority, accepts fds
	flatObjectSize  = 24

	// maxString16 bounds a declared string length to keep a corrupt parcel
	// from asking for a huge allocation.
	maxString16 = 1 << 20
)

// Writer builds a parcel in the layout of one protocol variant.
type Writer struct {
	protocol Protocol
	buf      []byte
	offsets  []uint64
}

// NewWriter returns an empty parcel writer.
func NewWriter(p Protocol) *Writer {
	return &Writer{protocol: p}
}

// Protocol returns the layout the writer produces.
func (w *Writer) Protocol() Protocol { return w.protocol }

// Bytes returns the parcel data written so far.
func (w *Writer) Bytes() []byte { return w.buf }

// Offsets returns the byte offsets of flattened objects in the parcel.
func (w *Writer) Offsets() []uint64 { return w.offsets }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// WriteInt32 appends a little endian int32.
func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

// WriteUint32 appends a little endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteBool appends a bool as an int32.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteInt32(1)
		return
	}
	w.WriteInt32(0)
}

// WriteString16 appends s as a length-prefixed, NUL terminated UTF-16 string
// padded to four bytes.
func (w *Writer) WriteString16(s string) {
	units := utf16.Encode([]rune(s))
	w.WriteInt32(int32(len(units)))
	for _, u := range units {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, u)
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, 0)
	w.pad()
}

// WriteNullString16 appends a null string16.
func (w *Writer) WriteNullString16() {
	w.WriteInt32(-1)
}

// WriteInterfaceToken appends the RPC header that precedes every AIDL call.
func (w *Writer) WriteInterfaceToken(iface string) {
	w.WriteInt32(strictModePenaltyGather)
	if w.protocol.hasWorkSource() {
		w.WriteInt32(unsetWorkSource)
	}
	if w.protocol.hasHeader() {
		w.WriteInt32(systemHeader)
	}
	w.WriteString16(iface)
}

// WriteLocalObject appends a strong reference to an object hosted by this
// process. A nil object is written as a null binder.
func (w *Writer) WriteLocalObject(obj *LocalObject) {
	if obj == nil {
		w.writeFlat(typeBinder, 0, 0, false)
	} else {
		w.writeFlat(typeBinder, obj.ptr, obj.ptr, true)
	}
	w.finishFlatten()
}

// WriteHandle appends a strong reference to a remote object.
func (w *Writer) WriteHandle(handle uint32) {
	w.writeFlat(typeHandle, uint64(handle), 0, true)
	w.finishFlatten()
}

func (w *Writer) writeFlat(typ uint32, binder, cookie uint64, record bool) {
	if record {
		w.offsets = append(w.offsets, uint64(len(w.buf)))
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, typ)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, flatBinderFlags)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, binder)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, cookie)
}

func (w *Writer) finishFlatten() {
	if w.protocol.hasStability() {
		w.WriteInt32(w.protocol.stability())
	}
}

func (w *Writer) pad() {
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
}

// Object is a flattened binder object read from a parcel.
type Object struct {
	Type   uint32
	Flags  uint32
	Binder uint64
	Cookie uint64
}

// IsNull reports whether the object is a null binder.
func (o Object) IsNull() bool {
	return o.Type == typeBinder && o.Binder == 0
}

// IsHandle reports whether the object references a remote node.
func (o Object) IsHandle() bool {
	return o.Type == typeHandle
}

// Handle returns the remote handle for handle objects.
func (o Object) Handle() uint32 {
	return uint32(o.Binder)
}

// Reader decodes a parcel in the layout of one protocol variant.
type Reader struct {
	protocol Protocol
	data     []byte
	pos      int
}

// NewReader returns a reader positioned at the start of data.
func NewReader(data []byte, p Protocol) *Reader {
	return &Reader{protocol: p, data: data}
}

// Protocol returns the layout the reader expects.
func (r *Reader) Protocol() Protocol { return r.protocol }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrShortParcel
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadInt32 reads a little endian int32.
func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// ReadUint32 reads a little endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.ReadInt32()
	return uint32(v), err
}

// ReadBool reads an int32 encoded bool.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadInt32()
	return v != 0, err
}

// ReadString16 reads a string written by WriteString16. A null string
// yields ErrNullString.
func (r *Reader) ReadString16() (string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", err
	}
	if n == -1 {
		return "", ErrNullString
	}
	if n < 0 || n > maxString16 {
		return "", fmt.Errorf("%w: string16 length %d", ErrShortParcel, n)
	}
	size := (int(n) + 1) * 2
	b, err := r.take(size)
	if err != nil {
		return "", err
	}
	if pad := (4 - size%4) % 4; pad > 0 {
		if _, err := r.take(pad); err != nil {
			return "", err
		}
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units)), nil
}

// ReadInterfaceToken reads the RPC header of an incoming call and returns
// the interface name it declares.
func (r *Reader) ReadInterfaceToken() (string, error) {
	if _, err := r.ReadInt32(); err != nil {
		return "", err
	}
	if r.protocol.hasWorkSource() {
		if _, err := r.ReadInt32(); err != nil {
			return "", err
		}
	}
	if r.protocol.hasHeader() {
		h, err := r.ReadInt32()
		if err != nil {
			return "", err
		}
		if h != systemHeader {
			return "", fmt.Errorf("%w: 0x%08x", ErrBadInterfaceHeader, uint32(h))
		}
	}
	return r.ReadString16()
}

// ReadObject reads a flattened binder object and its stability trailer.
func (r *Reader) ReadObject() (Object, error) {
	b, err := r.take(flatObjectSize)
	if err != nil {
		return Object{}, err
	}
	obj := Object{
		Type:   binary.LittleEndian.Uint32(b[0:]),
		Flags:  binary.LittleEndian.Uint32(b[4:]),
		Binder: binary.LittleEndian.Uint64(b[8:]),
		Cookie: binary.LittleEndian.Uint64(b[16:]),
	}
	if obj.Type != typeBinder && obj.Type != typeHandle {
		return Object{}, fmt.Errorf("binder: unexpected object type 0x%08x", obj.Type)
	}
	if r.protocol.hasStability() {
		if _, err := r.ReadInt32(); err != nil {
			return Object{}, err
		}
	}
	return obj, nil
}

// ReadException reads the status header that starts every AIDL reply and
// returns a *RemoteException when the call failed on the remote side.
func (r *Reader) ReadException() error {
	code, err := r.ReadInt32()
	if err != nil {
		return err
	}
	if code == 0 {
		return nil
	}
	// The message is optional on the wire.
	msg, _ := r.ReadString16()
	return &RemoteException{Code: code, Message: msg}
}

// RemoteException is an exception reported in an AIDL reply header.
type RemoteException struct {
	Code    int32
	Message string
}

func (e *RemoteException) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("binder: remote exception %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("binder: remote exception %d", e.Code)
}
