/* SPDX-License-Identifier: GPL-2.0
 *
 * Copyright (C) 2017-2018 Jason A. Donenfeld <Jason@zx2c4.com>. All Rights Reserved.
 */

package main

import (
	"golang.org/x/sys/unix"
)

// Run drives the single-threaded poll loop over the TUN device and bound
// sockets, blocking until stop is closed (spec §4.8 Event loop, §5
// Concurrency Model: "no locks, no goroutine-based mutation of shared
// state").
func (d *Device) Run(stop <-chan struct{}) error {
	t := &Task{Type: TaskMaintenance}
	d.tasks.push(t, d.now())

	tunFd := int(d.tun.File().Fd())

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		fds := []unix.PollFd{{Fd: int32(tunFd), Events: unix.POLLIN}}
		tunIdx := 0
		sock4Idx, sock6Idx := -1, -1
		if d.sock4 != nil {
			fds = append(fds, unix.PollFd{Fd: int32(d.sock4.Fd()), Events: unix.POLLIN})
			sock4Idx = len(fds) - 1
		}
		if d.sock6 != nil {
			fds = append(fds, unix.PollFd{Fd: int32(d.sock6.Fd()), Events: unix.POLLIN})
			sock6Idx = len(fds) - 1
		}

		timeout := d.PollTimeoutMS()
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		var tunReadable, sock4Readable, sock6Readable bool
		if n > 0 {
			tunReadable = fds[tunIdx].Revents&unix.POLLIN != 0
			if sock4Idx >= 0 {
				sock4Readable = fds[sock4Idx].Revents&unix.POLLIN != 0
			}
			if sock6Idx >= 0 {
				sock6Readable = fds[sock6Idx].Revents&unix.POLLIN != 0
			}
		}

		d.RunOnce(tunReadable, sock4Readable, sock6Readable)

		if conn, ok := d.PollStatusConn(); ok {
			d.ServeStatus(conn)
		}
	}
}

// OpenStatusSocket opens the control socket under the given interface
// name; callers may skip this entirely (spec §6: the socket is an
// optional introspection surface, not required for tunneling to work).
func (d *Device) OpenStatusSocket(name string) error {
	l, err := StatusListen(name)
	if err != nil {
		return err
	}
	d.status = l
	return nil
}

// Close releases the device's sockets and TUN file descriptor.
func (d *Device) Close() error {
	if d.sock4 != nil {
		d.sock4.Close()
	}
	if d.sock6 != nil {
		d.sock6.Close()
	}
	return d.tun.Close()
}
