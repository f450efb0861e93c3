// Copyright 2024 The gen-hypar Authors
// This file is part of the gen-hypar library.
//
// The gen-hypar library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The gen-hypar library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the gen-hypar library. If not, see <http://www.gnu.org/licenses/>.

// Command genhypard runs a standalone HyParView membership node fronted
// by a TCP listener and a reference flooding broadcaster, for manual
// testing and as a template for embedding the node in a larger service.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	ethlog "github.com/ethereum/go-ethereum/log"
	"gopkg.in/urfave/cli.v1"

	"github.com/emfa/gen-hypar/flood"
	"github.com/emfa/gen-hypar/hyparview"
	"github.com/emfa/gen-hypar/p2p"
	"github.com/emfa/gen-hypar/wire"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "listen address (ip:port); the port also identifies this node on the wire",
	}
	contactFlag = cli.StringFlag{
		Name:  "contact",
		Usage: "address of an existing member to join through (ip:port)",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity (0=silent, 5=trace)",
		Value: 3,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "genhypard"
	app.Usage = "HyParView membership node"
	app.Flags = []cli.Flag{configFileFlag, listenFlag, contactFlag, verbosityFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	ethlog.Root().SetHandler(ethlog.LvlFilterHandler(ethlog.Lvl(ctx.Int(verbosityFlag.Name)), ethlog.StreamHandler(os.Stderr, ethlog.TerminalFormat(false))))

	cfg := defaultGenhypardConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return fmt.Errorf("genhypard: %w", err)
		}
	}
	if v := ctx.String(listenFlag.Name); v != "" {
		cfg.ListenAddr = v
	}
	if v := ctx.String(contactFlag.Name); v != "" {
		cfg.Contact = v
	}

	self, err := parseIdentifier(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("genhypard: listen address: %w", err)
	}

	flooder := flood.NewFlooder(self, func(origin wire.Identifier, payload []byte) {
		ethlog.Info("genhypard: delivered message", "origin", origin, "bytes", len(payload))
	})

	manager, err := p2p.NewManager(self, nil, p2p.DialConfig{
		DialTimeout:  cfg.Hyparview.toHyparview().Timeout,
		RecvTimeout:  cfg.Hyparview.toHyparview().Timeout,
		SendTimeout:  cfg.Hyparview.toHyparview().SendTimeout,
		BackoffFloor: cfg.Hyparview.toHyparview().Timeout,
	})
	if err != nil {
		return fmt.Errorf("genhypard: %w", err)
	}

	node, err := hyparview.NewNode(self, cfg.Hyparview.toHyparview(), flooder, manager, nil)
	if err != nil {
		return fmt.Errorf("genhypard: %w", err)
	}
	manager.SetSink(node)
	flooder.Attach(node)

	if err := node.Start(cfg.ListenAddr); err != nil {
		return fmt.Errorf("genhypard: %w", err)
	}
	ethlog.Info("genhypard: listening", "addr", cfg.ListenAddr, "self", self)

	if cfg.Contact != "" {
		contact, err := parseIdentifier(cfg.Contact)
		if err != nil {
			return fmt.Errorf("genhypard: contact address: %w", err)
		}
		if err := node.JoinCluster(contact); err != nil {
			ethlog.Error("genhypard: join failed", "contact", contact, "err", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	ethlog.Info("genhypard: shutting down")
	return node.Stop()
}

func parseIdentifier(addr string) (wire.Identifier, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return wire.Identifier{}, err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return wire.Identifier{}, err
	}
	var ip net.IP
	for _, candidate := range ips {
		if v4 := candidate.To4(); v4 != nil {
			ip = v4
			break
		}
	}
	if ip == nil {
		return wire.Identifier{}, fmt.Errorf("genhypard: %s has no IPv4 address", host)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return wire.Identifier{}, err
	}
	return wire.NewIdentifier(ip, uint16(port))
}
