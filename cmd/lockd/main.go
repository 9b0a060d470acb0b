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

// Command lockd runs the cross-process lock daemon standalone, or as
// the auto-spawned target of a lockclient.EnsureDaemon handshake.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"deps.dev/util/artifact/lockd"
)

type options struct {
	IdleTimeout string `long:"idle-timeout" description:"grace period before auto-shutdown when idle: seconds, or an integer suffixed with ms" default:"300"`
	Family      string `long:"family" choice:"unix" choice:"inet" description:"socket family" default:"unix"`
	Address     string `long:"address" description:"listen address (socket path for unix, host:port for inet)" required:"true"`
	NoFork      bool   `long:"no-fork" description:"unused placeholder for in-process test callers; this binary always runs in its own process"`
	Debug       bool   `long:"debug" description:"verbose logging"`

	RendezvousAddr string `long:"rendezvous" description:"if set, dial this address and perform the handshake of section 6 instead of logging the listen address"`
	Nonce          string `long:"nonce" description:"handshake nonce, required together with --rendezvous"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	idleTimeout, err := lockd.ParseDuration(opts.IdleTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := lockd.Config{
		IdleTimeout: idleTimeout,
		Family:      opts.Family,
		NoFork:      opts.NoFork,
		Debug:       opts.Debug,
	}

	log := zerolog.New(zerolog.NewConsoleWriter()).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	ln, err := net.Listen(lockd.Network(cfg.Family), opts.Address)
	if err != nil {
		log.Error().Err(err).Msg("failed to bind lock daemon listener")
		os.Exit(1)
	}

	if opts.RendezvousAddr != "" {
		if err := lockd.Handshake(cfg.Family, opts.RendezvousAddr, opts.Nonce, ln.Addr().String()); err != nil {
			log.Error().Err(err).Msg("handshake with spawning client failed")
			os.Exit(1)
		}
	} else {
		log.Info().Str("address", ln.Addr().String()).Msg("lock daemon listening")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := lockd.NewServerFromConfig(log, cfg)
	if err := srv.Serve(ctx, ln); err != nil {
		log.Error().Err(err).Msg("lock daemon exited with error")
		os.Exit(1)
	}
}
