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

//go:build linux

package binder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/waydroid/appmonitor/internal/log"
)

const (
	ioctlWriteRead     = 0xc0306201
	ioctlSetMaxThreads = 0x40046205
	ioctlVersion       = 0xc0046209

	driverProtocolVersion = 8

	// vmSize matches the mapping libbinder uses for each process.
	vmSize = 1024*1024 - 2*4096
)

// writeRead mirrors struct binder_write_read.
type writeRead struct {
	writeSize     uint64
	writeConsumed uint64
	writeBuffer   uint64
	readSize      uint64
	readConsumed  uint64
	readBuffer    uint64
}

// Device is an open binder device node.
type Device struct {
	path   string
	fd     int
	vm     []byte
	wake   [2]int
	logger *slog.Logger

	// lifecycle guards fd and vm: transactions hold it shared, Close
	// exclusively.
	lifecycle sync.RWMutex
	closed    atomic.Bool
	serving   atomic.Bool
	looper    sync.WaitGroup

	mu         sync.Mutex
	objects    map[uint64]*LocalObject
	deaths     map[uint64]*deathLink
	nextCookie uint64
}

type deathLink struct {
	handle uint32
	ch     chan struct{}
}

// Open opens and maps a binder device node.
func Open(path string, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = log.Discard()
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	d := &Device{
		path:    path,
		fd:      fd,
		logger:  log.WithComponent(logger, "binder").With(slog.String("device", path)),
		objects: make(map[uint64]*LocalObject),
		deaths:  make(map[uint64]*deathLink),
	}

	var version int32
	if err := d.ioctl(ioctlVersion, unsafe.Pointer(&version)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binder: %s: query version: %w", path, err)
	}
	if version != driverProtocolVersion {
		unix.Close(fd)
		return nil, fmt.Errorf("binder: %s: driver protocol %d, want %d", path, version, driverProtocolVersion)
	}

	var maxThreads uint32
	if err := d.ioctl(ioctlSetMaxThreads, unsafe.Pointer(&maxThreads)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binder: %s: set max threads: %w", path, err)
	}

	vm, err := unix.Mmap(fd, 0, vmSize, unix.PROT_READ, unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binder: %s: mmap: %w", path, err)
	}
	d.vm = vm

	if err := unix.Pipe2(d.wake[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Munmap(vm)
		unix.Close(fd)
		return nil, fmt.Errorf("binder: wake pipe: %w", err)
	}

	return d, nil
}

func openDevice(path string, logger *slog.Logger) (Conn, error) {
	return Open(path, logger)
}

// Path returns the device node path.
func (d *Device) Path() string { return d.path }

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

// writeRead runs one BINDER_WRITE_READ. It returns the number of bytes the
// kernel placed in in.
func (d *Device) writeRead(out, in []byte) (int, error) {
	var bwr writeRead
	if len(out) > 0 {
		bwr.writeSize = uint64(len(out))
		bwr.writeBuffer = uint64(uintptr(unsafe.Pointer(&out[0])))
	}
	if len(in) > 0 {
		bwr.readSize = uint64(len(in))
		bwr.readBuffer = uint64(uintptr(unsafe.Pointer(&in[0])))
	}

	var err error
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), ioctlWriteRead, uintptr(unsafe.Pointer(&bwr)))
		if errno == unix.EINTR && bwr.readConsumed == 0 {
			// Resume the unconsumed part of the write.
			bwr.writeBuffer += bwr.writeConsumed
			bwr.writeSize -= bwr.writeConsumed
			bwr.writeConsumed = 0
			continue
		}
		if errno != 0 && errno != unix.EINTR {
			err = errno
		}
		break
	}
	runtime.KeepAlive(out)
	runtime.KeepAlive(in)

	if err != nil {
		return 0, err
	}
	return int(bwr.readConsumed), nil
}

// flush writes queued commands without reading.
func (d *Device) flush(out cmdBuf) {
	if len(out) == 0 {
		return
	}
	if _, err := d.writeRead(out, nil); err != nil {
		d.logger.Warn("failed to write binder commands", log.Error(err))
	}
}

// copyOut copies a kernel-owned buffer out of the mapping.
func (d *Device) copyOut(addr, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	base := uint64(uintptr(unsafe.Pointer(&d.vm[0])))
	if addr < base || addr+size > base+uint64(len(d.vm)) {
		return nil, fmt.Errorf("binder: buffer 0x%x+%d outside mapping", addr, size)
	}
	out := make([]byte, size)
	copy(out, d.vm[addr-base:])
	return out, nil
}

func (d *Device) readTransaction(td transactionData) ([]byte, []uint64, error) {
	data, err := d.copyOut(td.buffer, td.dataSize)
	if err != nil {
		return nil, nil, err
	}
	raw, err := d.copyOut(td.offsets, td.offsetsSize)
	if err != nil {
		return nil, nil, err
	}
	offsets := make([]uint64, len(raw)/8)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return data, offsets, nil
}

// Transact implements Conn.
func (d *Device) Transact(ctx context.Context, handle, code uint32, data *Writer, flags uint32) (*Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()
	if d.closed.Load() {
		return nil, ErrClosed
	}

	// The kernel matches the reply to the thread that sent the transaction.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	payload := data.Bytes()
	offsets := encodeOffsets(data.Offsets())
	td := transactionData{
		target:      uint64(handle),
		code:        code,
		flags:       flags,
		dataSize:    uint64(len(payload)),
		offsetsSize: uint64(len(offsets)),
	}
	if len(payload) > 0 {
		td.buffer = uint64(uintptr(unsafe.Pointer(&payload[0])))
	}
	if len(offsets) > 0 {
		td.offsets = uint64(uintptr(unsafe.Pointer(&offsets[0])))
	}

	var out cmdBuf
	out.u32(bcTransaction)
	out.transaction(td)

	log.Trace(d.logger, "transact",
		slog.Uint64("handle", uint64(handle)),
		slog.Uint64(log.TransactionKey, uint64(code)),
		slog.Int("size", len(payload)))

	oneWay := flags&FlagOneWay != 0
	in := make([]byte, 256)
	for {
		n, err := d.writeRead(out, in)
		runtime.KeepAlive(payload)
		runtime.KeepAlive(offsets)
		if err != nil {
			return nil, fmt.Errorf("binder: transact %d on handle %d: %w", code, handle, err)
		}

		out = nil
		r := &cmdReader{b: in[:n]}
		for r.more() {
			cmd := r.u32()
			switch cmd {
			case brTransactionComplete, brOnewaySpamSuspect:
				if oneWay {
					d.flush(out)
					return nil, nil
				}
			case brReply:
				reply, err := d.takeReply(r.transaction(), data.Protocol(), out)
				return reply, err
			case brDeadReply:
				d.flush(out)
				return nil, ErrDeadObject
			case brFailedReply, brFrozenReply:
				d.flush(out)
				return nil, ErrFailedReply
			case brError:
				status := int32(r.u32())
				d.flush(out)
				return nil, fmt.Errorf("binder: driver error %d", status)
			default:
				d.handleCommand(cmd, r, &out)
			}
		}
	}
}

// takeReply copies a reply out of the mapping, takes references on any
// handles it carries and returns the buffer to the kernel.
func (d *Device) takeReply(td transactionData, p Protocol, pending cmdBuf) (*Reader, error) {
	data, offsets, err := d.readTransaction(td)

	out := pending
	if err == nil {
		for _, h := range handlesIn(data, offsets) {
			out.u32(bcIncrefs)
			out.u32(h)
			out.u32(bcAcquire)
			out.u32(h)
		}
	}
	out.u32(bcFreeBuffer)
	out.u64(td.buffer)
	d.flush(out)

	if err != nil {
		return nil, err
	}
	if td.flags&flagStatusCode != 0 {
		var status int32 = StatusUnknownError
		if len(data) >= 4 {
			status = int32(binary.LittleEndian.Uint32(data))
		}
		if status == StatusDeadObject {
			return nil, ErrDeadObject
		}
		return nil, &StatusError{Status: status}
	}
	return NewReader(data, p), nil
}

// handleCommand processes driver work that is not a reply. Acknowledgements
// are appended to out.
func (d *Device) handleCommand(cmd uint32, r *cmdReader, out *cmdBuf) {
	switch cmd {
	case brNoop, brOK, brSpawnLooper, brTransactionComplete, brOnewaySpamSuspect:
	case brTransaction, brTransactionSecCtx:
		td := r.transaction()
		if cmd == brTransactionSecCtx {
			r.u64()
		}
		d.dispatch(td)
	case brIncrefs, brAcquire:
		ptr, cookie := r.u64(), r.u64()
		if cmd == brIncrefs {
			out.u32(bcIncrefsDone)
		} else {
			out.u32(bcAcquireDone)
		}
		out.u64(ptr)
		out.u64(cookie)
	case brRelease, brDecrefs:
		r.u64()
		r.u64()
	case brDeadBinder:
		cookie := r.u64()
		d.fireDeath(cookie)
		out.u32(bcDeadBinderDone)
		out.u64(cookie)
	case brClearDeathNotificationDone:
		r.u64()
	case brError:
		d.logger.Warn("binder driver error", slog.Int("status", int(int32(r.u32()))))
	case brDeadReply, brFailedReply, brFrozenReply:
		d.logger.Debug("stray reply status", slog.String("command", fmt.Sprintf("0x%x", cmd)))
	default:
		d.logger.Debug("skipping unhandled binder command", slog.String("command", fmt.Sprintf("0x%x", cmd)))
		r.skip(payloadSize(cmd))
	}
}

// dispatch serves one incoming transaction and sends its reply.
func (d *Device) dispatch(td transactionData) {
	tx := Transaction{
		Code:       td.code,
		Flags:      td.flags,
		SenderPID:  td.senderPID,
		SenderEUID: td.senderEUID,
	}

	data, _, err := d.readTransaction(td)

	var out cmdBuf
	out.u32(bcFreeBuffer)
	out.u64(td.buffer)

	d.mu.Lock()
	obj := d.objects[td.target]
	d.mu.Unlock()

	var reply *Writer
	status := StatusDeadObject
	switch {
	case err != nil:
		d.logger.Warn("failed to read transaction", log.Error(err))
		status = StatusBadType
	case obj != nil:
		reply, status = obj.Dispatch(tx, data)
	}

	if tx.OneWay() {
		d.flush(out)
		return
	}

	var payload, offsets []byte
	rtd := transactionData{}
	if status == StatusOK {
		payload = reply.Bytes()
		offsets = encodeOffsets(reply.Offsets())
	} else {
		payload = binary.LittleEndian.AppendUint32(nil, uint32(status))
		rtd.flags = flagStatusCode
	}
	rtd.dataSize = uint64(len(payload))
	rtd.offsetsSize = uint64(len(offsets))
	if len(payload) > 0 {
		rtd.buffer = uint64(uintptr(unsafe.Pointer(&payload[0])))
	}
	if len(offsets) > 0 {
		rtd.offsets = uint64(uintptr(unsafe.Pointer(&offsets[0])))
	}
	out.u32(bcReply)
	out.transaction(rtd)

	d.flush(out)
	runtime.KeepAlive(payload)
	runtime.KeepAlive(offsets)
}

// Publish implements Conn.
func (d *Device) Publish(obj *LocalObject) {
	d.mu.Lock()
	d.objects[obj.ptr] = obj
	d.mu.Unlock()
}

// LinkToDeath implements Conn. Notifications are delivered by the looper, so
// Serve must be running for the channel to ever close.
func (d *Device) LinkToDeath(handle uint32) (<-chan struct{}, func(), error) {
	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()
	if d.closed.Load() {
		return nil, nil, ErrClosed
	}

	d.mu.Lock()
	d.nextCookie++
	cookie := d.nextCookie
	link := &deathLink{handle: handle, ch: make(chan struct{})}
	d.deaths[cookie] = link
	d.mu.Unlock()

	var out cmdBuf
	out.u32(bcRequestDeathNotification)
	out.u32(handle)
	out.u64(cookie)
	if _, err := d.writeRead(out, nil); err != nil {
		d.mu.Lock()
		delete(d.deaths, cookie)
		d.mu.Unlock()
		return nil, nil, fmt.Errorf("binder: request death notification: %w", err)
	}

	cancel := func() {
		d.mu.Lock()
		_, live := d.deaths[cookie]
		delete(d.deaths, cookie)
		d.mu.Unlock()
		if !live {
			return
		}

		d.lifecycle.RLock()
		defer d.lifecycle.RUnlock()
		if d.closed.Load() {
			return
		}
		var clear cmdBuf
		clear.u32(bcClearDeathNotification)
		clear.u32(handle)
		clear.u64(cookie)
		d.flush(clear)
	}
	return link.ch, cancel, nil
}

func (d *Device) fireDeath(cookie uint64) {
	d.mu.Lock()
	link, ok := d.deaths[cookie]
	delete(d.deaths, cookie)
	d.mu.Unlock()
	if ok {
		d.logger.Debug("binder died", slog.Uint64("handle", uint64(link.handle)))
		close(link.ch)
	}
}

// ReleaseHandle implements Conn.
func (d *Device) ReleaseHandle(handle uint32) {
	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()
	if d.closed.Load() {
		return
	}
	var out cmdBuf
	out.u32(bcRelease)
	out.u32(handle)
	out.u32(bcDecrefs)
	out.u32(handle)
	d.flush(out)
}

// Serve implements Conn. The calling goroutine becomes the process's only
// looper thread.
func (d *Device) Serve(ctx context.Context) error {
	if !d.serving.CompareAndSwap(false, true) {
		return errors.New("binder: looper already running")
	}
	defer d.serving.Store(false)

	d.lifecycle.RLock()
	if d.closed.Load() {
		d.lifecycle.RUnlock()
		return ErrClosed
	}
	d.looper.Add(1)
	d.lifecycle.RUnlock()
	defer d.looper.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var enter cmdBuf
	enter.u32(bcEnterLooper)
	if _, err := d.writeRead(enter, nil); err != nil {
		return fmt.Errorf("binder: enter looper: %w", err)
	}
	defer func() {
		var exit cmdBuf
		exit.u32(bcExitLooper)
		d.flush(exit)
	}()

	stop := context.AfterFunc(ctx, d.wakeLooper)
	defer stop()

	d.logger.Debug("looper started")

	in := make([]byte, 1024)
	fds := []unix.PollFd{
		{Fd: int32(d.fd), Events: unix.POLLIN},
		{Fd: int32(d.wake[0]), Events: unix.POLLIN},
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if d.closed.Load() {
			return ErrClosed
		}

		fds[0].Revents, fds[1].Revents = 0, 0
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("binder: poll: %w", err)
		}
		if fds[1].Revents != 0 {
			d.drainWake()
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return ErrClosed
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		n, err := d.writeRead(nil, in)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return fmt.Errorf("binder: looper read: %w", err)
		}

		var out cmdBuf
		r := &cmdReader{b: in[:n]}
		for r.more() {
			d.handleCommand(r.u32(), r, &out)
		}
		d.flush(out)
	}
}

func (d *Device) wakeLooper() {
	unix.Write(d.wake[1], []byte{0})
}

func (d *Device) drainWake() {
	var buf [16]byte
	for {
		if n, err := unix.Read(d.wake[0], buf[:]); n <= 0 || err != nil {
			return
		}
	}
}

// Close implements Conn. It stops the looper and releases the device.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.wakeLooper()
	d.looper.Wait()

	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	for cookie, link := range d.deaths {
		delete(d.deaths, cookie)
		close(link.ch)
	}
	d.mu.Unlock()

	var errs []error
	if err := unix.Munmap(d.vm); err != nil {
		errs = append(errs, err)
	}
	if err := unix.Close(d.fd); err != nil {
		errs = append(errs, err)
	}
	unix.Close(d.wake[0])
	unix.Close(d.wake[1])
	return errors.Join(errs...)
}

var _ Conn = (*Device)(nil)
