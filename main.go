// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Pijulgit is a proxy that keeps a Git repository and a Pijul
// repository synchronized. It maintains a local working tree for each
// remote, translates every new commit into a patch and every new
// patch into a commit, and marks irreducible conflicts in-band in the
// affected files.
//
// Usage:
//
//	pijulgit [--config path] [--once] [--interval d] [--listen addr]
//
// The configuration file names the two remotes:
//
//	git:
//	  url: https://gitlab.com/owner/project.git
//	pijul:
//	  url: https://nest.pijul.com/owner/project
//	interval: 30s
//	listen: :48654
//
// The proxy syncs once on startup, then on every poll tick and on
// every accepted push webhook (POST /fromGitlab, POST /fromNest).
// Overlapping triggers coalesce into at most one pending sync.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/grailbio/base/log"
	"github.com/spf13/cobra"

	"github.com/purplesyringa/pijulgit/bridge"
	"github.com/purplesyringa/pijulgit/git"
	"github.com/purplesyringa/pijulgit/pijul"
	"github.com/purplesyringa/pijulgit/proxy"
)

var (
	configPath string
	once       bool
	interval   time.Duration
	listen     string
)

var root = &cobra.Command{
	Use:           "pijulgit",
	Short:         "Bidirectional synchronization between a Git and a Pijul repository",
	Args:          cobra.NoArgs,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	log.AddFlags()
	root.Flags().StringVar(&configPath, "config", "~/.config/pijulgit.yaml", "path to the configuration file")
	root.Flags().BoolVar(&once, "once", false, "run a single sync and exit")
	root.Flags().DurationVar(&interval, "interval", 0, "poll interval, overriding the configuration file")
	root.Flags().StringVar(&listen, "listen", "", "webhook listen address, overriding the configuration file")
	root.Flags().AddGoFlagSet(flag.CommandLine)
}

func run(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if interval != 0 {
		config.interval = interval
	}
	if listen != "" {
		config.Listen = listen
	}

	// Open repositories in URL order so that two proxies for the same
	// pair cannot deadlock on the working-tree locks.
	var (
		g *git.Repo
		p *pijul.Repo
	)
	openGit := func() (err error) { g, err = git.Open(config.Git.URL); return }
	openPijul := func() (err error) { p, err = pijul.Open(config.Pijul.URL); return }
	steps := []func() error{openGit, openPijul}
	if config.Pijul.URL < config.Git.URL {
		steps[0], steps[1] = steps[1], steps[0]
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	defer g.Close()
	defer p.Close()

	syncer := bridge.New(g, p)
	log.Printf("initial sync")
	syncer.Sync()
	if once {
		return nil
	}

	gate := proxy.NewGate(syncer.Sync)
	go func() {
		for range time.Tick(config.interval) {
			gate.Trigger()
		}
	}()

	if config.Listen == "" {
		select {}
	}
	server := proxy.NewServer(gate, config.Git.URL, config.Pijul.URL)
	log.Printf("listening on %s", config.Listen)
	return http.ListenAndServe(config.Listen, server.Handler())
}

func main() {
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
