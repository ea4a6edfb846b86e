/* SPDX-License-Identifier: GPL-2.0
 *
 * Copyright (C) 2017-2018 Jason A. Donenfeld <Jason@zx2c4.com>. All Rights Reserved.
 */

package main

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path"

	"golang.org/x/sys/unix"
)

const (
	statusSocketDirectory = "/var/run/fastd-go"
	statusSocketName      = "%s.sock"
)

// StatusListener wraps a Unix socket listener with a watch on the backing
// file, so the daemon notices if its control socket is deleted out from
// under it (spec §6 External Interfaces: introspection socket), adapted
// from the teacher's UAPIListener.
type StatusListener struct {
	listener  net.Listener
	connNew   chan net.Conn
	connErr   chan error
	inotifyFd int
}

func (l *StatusListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.connNew:
		return conn, nil
	case err := <-l.connErr:
		return nil, err
	}
}

func (l *StatusListener) Close() error {
	err1 := unix.Close(l.inotifyFd)
	err2 := l.listener.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (l *StatusListener) Addr() net.Addr { return l.listener.Addr() }

// StatusListen opens (or re-opens) the control socket at
// /var/run/fastd-go/<name>.sock.
func StatusListen(name string) (*StatusListener, error) {
	if err := os.MkdirAll(statusSocketDirectory, 0700); err != nil && !os.IsExist(err) {
		return nil, err
	}

	socketPath := path.Join(statusSocketDirectory, fmt.Sprintf(statusSocketName, name))

	listener, err := func() (*net.UnixListener, error) {
		addr, err := net.ResolveUnixAddr("unix", socketPath)
		if err != nil {
			return nil, err
		}

		l, err := net.ListenUnix("unix", addr)
		if err == nil {
			return l, nil
		}

		if _, dialErr := net.Dial("unix", socketPath); dialErr == nil {
			return nil, errors.New("fastd-go: control socket already in use")
		}

		if err := os.Remove(socketPath); err != nil {
			return nil, err
		}
		return net.ListenUnix("unix", addr)
	}()
	if err != nil {
		return nil, err
	}

	l := &StatusListener{
		listener: listener,
		connNew:  make(chan net.Conn, 1),
		connErr:  make(chan error, 1),
	}

	l.inotifyFd, err = unix.InotifyInit()
	if err != nil {
		listener.Close()
		return nil, err
	}
	if _, err := unix.InotifyAddWatch(l.inotifyFd, socketPath, unix.IN_ATTRIB|unix.IN_DELETE|unix.IN_DELETE_SELF); err != nil {
		unix.Close(l.inotifyFd)
		listener.Close()
		return nil, err
	}

	go func() {
		var buf [4096]byte
		for {
			if _, err := os.Lstat(socketPath); os.IsNotExist(err) {
				l.connErr <- err
				return
			}
			if _, err := unix.Read(l.inotifyFd, buf[:]); err != nil {
				l.connErr <- err
				return
			}
		}
	}()

	go func() {
		for {
			conn, err := l.listener.Accept()
			if err != nil {
				l.connErr <- err
				return
			}
			l.connNew <- conn
		}
	}()

	return l, nil
}

// ServeStatus answers a single status query: one line per peer with its
// name, address, state and last-seen time, in the style of `wg show`.
// This is read-only introspection, never a reconfiguration channel (spec
// §1 Non-goals: no dynamic runtime reconfiguration beyond what the control
// socket observes).
func (d *Device) ServeStatus(conn net.Conn) {
	defer conn.Close()
	w := bufio.NewWriter(conn)
	defer w.Flush()

	for _, p := range d.peers.All() {
		name := "(temporary)"
		if p.Config != nil {
			name = p.Config.Name
		}
		fmt.Fprintf(w, "peer=%s\naddress=%s\nstate=%s\nlast_seen=%d\n\n",
			name, p.Address, p.State, p.LastSeen.Unix())
	}
}
