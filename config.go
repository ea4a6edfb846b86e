/*
  Copyright (c) 2012-2014, Matthias Schiffer <mschiffer@universe-factory.net>
  All rights reserved.
*/

package main

import (
	"net"
	"time"
)

const (
	daemonVersion = "0.1"
	protocolName  = "ec25519-fhmqvc"

	minMTUTUN = 576
	minMTUTAP = 576 + 14
)

// Mode selects Ethernet bridging (TAP) or IP routing (TUN) (spec §3, §6).
type Mode int

const (
	ModeTAP Mode = iota
	ModeTUN
)

// Config is the fully-resolved configuration struct the core consumes
// (spec §6 Configuration inputs). Parsing a config file is explicitly out
// of scope for the core; LoadConfig in toml_config.go builds one of these
// from a TOML file and runDaemon hands it to NewDevice.
type Config struct {
	InterfaceName string
	Mode          Mode
	MTU           uint16

	BindV4 *net.UDPAddr // nil => do not bind IPv4
	BindV6 *net.UDPAddr // nil => do not bind IPv6

	PrivateKey [32]byte

	Peers []*PeerConfig

	SecureHandshakes bool

	PeerStaleTime     time.Duration
	PeerStaleTimeTemp time.Duration
	EthAddrStaleTime  time.Duration
	KeyValid          time.Duration
	KeyValidOld       time.Duration

	LogLevel LogLevel

	// methodNames is the locally supported method list, sent verbatim in
	// our own handshakes. Negotiation precedence is the sender's, not
	// ours: spec §4.4 picks the earliest entry in the *sender's* list that
	// the receiver also knows, mirroring fastd's get_method/
	// parse_string_list (a reversed stack overwritten unconditionally
	// while iterating, so the first-listed known entry wins).
	methodNames []string
}

func (c *Config) modeByte() uint8 {
	if c.Mode == ModeTAP {
		return modeTAP
	}
	return modeTUN
}

func (c *Config) minMTU() uint16 {
	if c.Mode == ModeTAP {
		return minMTUTAP
	}
	return minMTUTUN
}

// Validate checks the static invariants of spec §6 (ConfigInvalid, spec
// §7): MTU floor per mode, at least one bind address, and the `null`
// method's single-floating-peer restriction
// (original_source/src/method_null.c null_check_config).
func (c *Config) Validate() error {
	if c.MTU < c.minMTU() {
		return errConfigInvalid
	}
	if c.BindV4 == nil && c.BindV6 == nil {
		return errConfigInvalid
	}

	nFloating := 0
	for _, p := range c.Peers {
		if p.Remote == nil {
			nFloating++
		}
	}

	usesNull := false
	for _, name := range c.methodNames {
		if name == "null" {
			usesNull = true
		}
	}
	if usesNull && nFloating > 1 {
		return errConfigInvalid
	}

	return nil
}
