// Copyright 2023 Google LLC
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

package lockclient

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"

	"deps.dev/util/artifact/lockd"
	"deps.dev/util/artifact/lockproto"
)

// Spawner launches a daemon process (or, in nofork mode, starts one
// in-process) given its socket family, a temporary rendezvous address
// to dial back to, and a nonce to prove the handshake is genuine.
type Spawner func(family, rendezvousAddr, nonce string) error

// EnsureDaemon dials addr over family ("unix" or "inet"); if that
// fails it opens a one-shot rendezvous listener, generates a nonce,
// invokes spawn to start a daemon, and waits for that daemon's
// handshake callback before dialing the address it advertises, per
// section 6.
func EnsureDaemon(family, addr string, spawn Spawner) (*Conn, error) {
	netw := lockd.Network(family)
	if c, err := Dial(netw, addr); err == nil {
		return c, nil
	}

	rendezvousAddr := "127.0.0.1:0"
	if netw == "unix" {
		rendezvousAddr = addr + ".rendezvous"
	}
	ln, err := net.Listen(netw, rendezvousAddr)
	if err != nil {
		return nil, fmt.Errorf("lockclient: opening rendezvous listener: %w", err)
	}
	defer ln.Close()

	nonce, err := randomNonce()
	if err != nil {
		return nil, fmt.Errorf("lockclient: generating handshake nonce: %w", err)
	}

	if err := spawn(family, ln.Addr().String(), nonce); err != nil {
		return nil, fmt.Errorf("lockclient: spawning daemon: %w", err)
	}

	nc, err := ln.Accept()
	if err != nil {
		return nil, ErrUnavailable
	}
	defer nc.Close()

	gotNonce, err := lockproto.ReadLPString(nc)
	if err != nil {
		return nil, ErrProtocol
	}
	if gotNonce != nonce {
		return nil, ErrProtocol
	}
	listenAddr, err := lockproto.ReadLPString(nc)
	if err != nil {
		return nil, ErrProtocol
	}

	return Dial(netw, listenAddr)
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
