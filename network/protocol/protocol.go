/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package protocol names the transport protocols the syslog hook package
// dials, independent of any particular net.Dial call site.
package protocol

import "strings"

type NetworkProtocol uint8

const (
	NetworkEmpty NetworkProtocol = iota
	NetworkUnix
	NetworkUnixGram
	NetworkTCP
	NetworkTCP4
	NetworkTCP6
	NetworkUDP
	NetworkUDP4
	NetworkUDP6
	NetworkIP
	NetworkIP4
	NetworkIP6
)

// String returns the lowercase net.Dial network name, or "" for NetworkEmpty
// and any out-of-range value.
func (n NetworkProtocol) String() string {
	switch n {
	case NetworkUnix:
		return "unix"
	case NetworkUnixGram:
		return "unixgram"
	case NetworkTCP:
		return "tcp"
	case NetworkTCP4:
		return "tcp4"
	case NetworkTCP6:
		return "tcp6"
	case NetworkUDP:
		return "udp"
	case NetworkUDP4:
		return "udp4"
	case NetworkUDP6:
		return "udp6"
	case NetworkIP:
		return "ip"
	case NetworkIP4:
		return "ip4"
	case NetworkIP6:
		return "ip6"
	}
	return ""
}

// Code is an alias for String, kept distinct since config decoding and
// logging call sites read more naturally as ".Code()" than ".String()".
func (n NetworkProtocol) Code() string {
	return n.String()
}

// Parse maps a case-insensitive network name back to its NetworkProtocol,
// returning NetworkEmpty for anything unrecognized.
func Parse(s string) NetworkProtocol {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unix":
		return NetworkUnix
	case "unixgram":
		return NetworkUnixGram
	case "tcp":
		return NetworkTCP
	case "tcp4":
		return NetworkTCP4
	case "tcp6":
		return NetworkTCP6
	case "udp":
		return NetworkUDP
	case "udp4":
		return NetworkUDP4
	case "udp6":
		return NetworkUDP6
	case "ip":
		return NetworkIP
	case "ip4":
		return NetworkIP4
	case "ip6":
		return NetworkIP6
	}
	return NetworkEmpty
}
