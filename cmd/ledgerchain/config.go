// Copyright 2021 Hailiang Zhao <hliangzhao@zju.edu.cn>
// This file is part of the lightChain, adapted for ledgerchain.
//
// The lightChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The lightChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the lightChain. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ledgerchain/p2p"
)

// Config carries the node's operating defaults: data directory, ports,
// seed peers, sync cadence. Loaded from a .env file if present, then
// from the process environment, so a bare `go run` with no .env still
// works.
type Config struct {
	DataDir      string
	P2PPort      int
	APIPort      int
	SeedPeers    []string
	SyncInterval time.Duration
	MempoolBytes int
	Subsidy      int64
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// LoadConfig reads .env (printing a one-line notice and carrying on if
// it is absent) and resolves the node's operating defaults.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, using built-in defaults")
	}

	syncSeconds := envIntOr("NODE_SYNC_INTERVAL_SECONDS", int(p2p.DefaultSyncInterval/time.Second))

	cfg := &Config{
		DataDir:      envOr("NODE_DATA_DIR", "./data"),
		P2PPort:      envIntOr("NODE_P2P_PORT", 9000),
		APIPort:      envIntOr("NODE_API_PORT", 9001),
		SyncInterval: time.Duration(syncSeconds) * time.Second,
		MempoolBytes: envIntOr("NODE_MEMPOOL_MAX_BYTES", 4*1024*1024),
		Subsidy:      int64(envIntOr("NODE_SUBSIDY", 1000)),
	}
	if raw := os.Getenv("NODE_SEED_PEERS"); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.SeedPeers = append(cfg.SeedPeers, addr)
			}
		}
	}
	return cfg
}
