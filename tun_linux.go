/* SPDX-License-Identifier: GPL-2.0
 *
 * Copyright (C) 2017-2018 Jason A. Donenfeld <Jason@zx2c4.com>. All Rights Reserved.
 */

package main

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	cIFFTUN   = 0x0001
	cIFFTAP   = 0x0002
	cIFFNOPI  = 0x1000
	cTUNSETIFF = 0x400454ca
)

type nativeTun struct {
	file   *os.File
	name   string
	events chan TUNEvent
}

type ifReq struct {
	Name  [16]byte
	Flags uint16
	pad   [22]byte
}

type ifReqMTU struct {
	Name [16]byte
	MTU  int32
	pad  [20]byte
}

// CreateTUN opens a kernel TUN (mode == ModeTUN) or TAP (mode == ModeTAP)
// device, matching the teacher's platform-specific opener split
// (conn_linux.go / conn_darwin.go) but for /dev/net/tun.
func CreateTUN(name string, mode Mode) (TUNDevice, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = cIFFNOPI
	if mode == ModeTAP {
		req.Flags |= cIFFTAP
	} else {
		req.Flags |= cIFFTUN
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(cTUNSETIFF), uintptr(unsafe.Pointer(&req))); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF: %w", errno)
	}

	t := &nativeTun{
		file:   os.NewFile(uintptr(fd), "/dev/net/tun"),
		name:   unix.ByteSliceToString(req.Name[:]),
		events: make(chan TUNEvent, 8),
	}
	return t, nil
}

func (t *nativeTun) File() *os.File { return t.file }
func (t *nativeTun) Name() string   { return t.name }
func (t *nativeTun) Events() chan TUNEvent { return t.events }

func (t *nativeTun) MTU() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)

	var req ifReqMTU
	copy(req.Name[:], t.name)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.SIOCGIFMTU, uintptr(unsafe.Pointer(&req))); errno != 0 {
		return 0, errno
	}
	return int(req.MTU), nil
}

func (t *nativeTun) Read(buf []byte, offset int) (int, error) {
	return t.file.Read(buf[offset:])
}

func (t *nativeTun) Write(buf []byte, offset int) (int, error) {
	return t.file.Write(buf[offset:])
}

func (t *nativeTun) Close() error {
	close(t.events)
	return t.file.Close()
}
