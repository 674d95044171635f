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
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"ledgerchain/core"
	"ledgerchain/mempool"
	"ledgerchain/miner"
	"ledgerchain/p2p"
	"ledgerchain/store"
)

// CLI is the command line interface for ledgerchain.
type CLI struct{}

const usage = `Usage:
	createwallet                                        --- Generate a new wallet (key pair) and save it into the local wallet file
	listaddresses                                        --- List all addresses saved in the local wallet file
	printchain                                           --- Print every block in the local chain, newest first
	getblocknum                                          --- Print the height of the local chain
	getbalance -addr ADDR                                --- Get the confirmed balance of ADDR
	send -src ADDR1 -dst ADDR2 -amount AMT -fee FEE -mine  --- Send AMT of coins from ADDR1 to ADDR2, mining immediately if -mine is set
	mine -addr ADDR                                      --- Mine a single block locally, crediting ADDR
	startnode -miner ADDR                                --- Start a node serving the P2P/API HTTP surface; mining is enabled if -miner is set
	addpeer -node HOST:PORT -addr PEER_ADDR               --- Tell the node at HOST:PORT to add PEER_ADDR as a neighbor
	removepeer -node HOST:PORT -addr PEER_ADDR            --- Tell the node at HOST:PORT to remove PEER_ADDR
	listpeers -node HOST:PORT                             --- List the neighbors known to the node at HOST:PORT`

func (cli *CLI) printUsage() {
	fmt.Println(usage)
}

// Run parses args and dispatches to the matching subcommand.
func (cli *CLI) Run(args []string) {
	if len(args) < 1 {
		cli.printUsage()
		os.Exit(1)
	}

	createWalletCmd := flag.NewFlagSet("createwallet", flag.ExitOnError)
	listAddrCmd := flag.NewFlagSet("listaddresses", flag.ExitOnError)
	printChainCmd := flag.NewFlagSet("printchain", flag.ExitOnError)
	getBlockNumCmd := flag.NewFlagSet("getblocknum", flag.ExitOnError)

	getBalanceCmd := flag.NewFlagSet("getbalance", flag.ExitOnError)
	balanceAddr := getBalanceCmd.String("addr", "", "address to query")

	sendCmd := flag.NewFlagSet("send", flag.ExitOnError)
	sendFrom := sendCmd.String("src", "", "source address")
	sendTo := sendCmd.String("dst", "", "destination address")
	sendAmount := sendCmd.Int64("amount", 0, "amount to send")
	sendFee := sendCmd.Int64("fee", 0, "fee to declare")
	sendMine := sendCmd.Bool("mine", false, "mine a block immediately on this node")

	mineCmd := flag.NewFlagSet("mine", flag.ExitOnError)
	mineAddr := mineCmd.String("addr", "", "address to credit the block reward to")

	startNodeCmd := flag.NewFlagSet("startnode", flag.ExitOnError)
	nodeMinerAddr := startNodeCmd.String("miner", "", "enable mining and credit the reward to ADDR")

	addPeerCmd := flag.NewFlagSet("addpeer", flag.ExitOnError)
	addPeerNode := addPeerCmd.String("node", "", "host:port of the node to instruct")
	addPeerAddr := addPeerCmd.String("addr", "", "neighbor address to add")

	removePeerCmd := flag.NewFlagSet("removepeer", flag.ExitOnError)
	removePeerNode := removePeerCmd.String("node", "", "host:port of the node to instruct")
	removePeerAddr := removePeerCmd.String("addr", "", "neighbor address to remove")

	listPeersCmd := flag.NewFlagSet("listpeers", flag.ExitOnError)
	listPeersNode := listPeersCmd.String("node", "", "host:port of the node to query")

	switch args[0] {
	case "createwallet":
		_ = createWalletCmd.Parse(args[1:])
		cli.createWallet()
	case "listaddresses":
		_ = listAddrCmd.Parse(args[1:])
		cli.listAddresses()
	case "printchain":
		_ = printChainCmd.Parse(args[1:])
		cli.printChain()
	case "getblocknum":
		_ = getBlockNumCmd.Parse(args[1:])
		cli.getBlockNum()
	case "getbalance":
		_ = getBalanceCmd.Parse(args[1:])
		if *balanceAddr == "" {
			getBalanceCmd.Usage()
			os.Exit(1)
		}
		cli.getBalance(*balanceAddr)
	case "send":
		_ = sendCmd.Parse(args[1:])
		if *sendFrom == "" || *sendTo == "" {
			sendCmd.Usage()
			os.Exit(1)
		}
		cli.send(*sendFrom, *sendTo, *sendAmount, *sendFee, *sendMine)
	case "mine":
		_ = mineCmd.Parse(args[1:])
		if *mineAddr == "" {
			mineCmd.Usage()
			os.Exit(1)
		}
		cli.mine(*mineAddr)
	case "startnode":
		_ = startNodeCmd.Parse(args[1:])
		cli.startNode(*nodeMinerAddr)
	case "addpeer":
		_ = addPeerCmd.Parse(args[1:])
		if *addPeerNode == "" || *addPeerAddr == "" {
			addPeerCmd.Usage()
			os.Exit(1)
		}
		cli.remotePeerCall(*addPeerNode, http.MethodPost, "/peers", *addPeerAddr)
	case "removepeer":
		_ = removePeerCmd.Parse(args[1:])
		if *removePeerNode == "" || *removePeerAddr == "" {
			removePeerCmd.Usage()
			os.Exit(1)
		}
		cli.remotePeerCall(*removePeerNode, http.MethodPost, "/peers/remove", *removePeerAddr)
	case "listpeers":
		_ = listPeersCmd.Parse(args[1:])
		if *listPeersNode == "" {
			listPeersCmd.Usage()
			os.Exit(1)
		}
		cli.listRemotePeers(*listPeersNode)
	default:
		cli.printUsage()
		os.Exit(1)
	}
}

// openStore opens the node's single bbolt database file under the
// configured data directory, creating the directory if needed.
func openStore(cfg *Config) *store.Store {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Panic(fmt.Errorf("cmd: create data dir %s: %w", cfg.DataDir, err))
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "ledgerchain.db"))
	if err != nil {
		log.Panic(err)
	}
	return st
}

// openNode wires the chain, UTXO set, mempool, and validator a CLI
// command or a running node needs, backed by one bbolt-backed store.
func openNode(cfg *Config) (*store.Store, *core.BlockChain, *core.UTXOSet, *mempool.Mempool, *core.Validator) {
	st := openStore(cfg)
	chain, err := core.Open(st)
	if err != nil {
		log.Panic(err)
	}
	utxo := core.NewUTXOSet(st)
	pool := mempool.New(utxo, st, cfg.MempoolBytes)
	if err := pool.LoadFromStore(); err != nil {
		printWarn("warning: failed to reload mempool from store: %v", err)
	}
	validator := core.NewValidator(chain, utxo, pool)
	return st, chain, utxo, pool, validator
}

func (cli *CLI) createWallet() {
	wallets, err := core.NewWallets()
	if err != nil {
		log.Panic(err)
	}
	addr, err := wallets.CreateWallet()
	if err != nil {
		log.Panic(err)
	}
	if err := wallets.Save2File(); err != nil {
		log.Panic(err)
	}
	printInfo("new address: %s", addr)
}

func (cli *CLI) listAddresses() {
	wallets, err := core.NewWallets()
	if err != nil {
		log.Panic(err)
	}
	for i, addr := range wallets.GetAddrs() {
		fmt.Printf("#%d: %s\n", i, addr)
	}
}

func (cli *CLI) printChain() {
	cfg := LoadConfig()
	st := openStore(cfg)
	defer st.Close()
	chain, err := core.Open(st)
	if err != nil {
		log.Panic(err)
	}

	blocks, err := chain.Blocks()
	if err != nil {
		log.Panic(err)
	}
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		fmt.Printf("height: %d\n", b.Header.Index)
		fmt.Printf("hash: %s\n", b.Hash)
		fmt.Printf("prev_hash: %s\n", b.Header.PrevHash)
		fmt.Printf("difficulty: %d\n", b.Header.Difficulty)
		fmt.Printf("txs: %d\n", len(b.Transactions))
		meets := core.MeetsDifficulty(b.Header.Hash(), b.Header.Difficulty)
		fmt.Printf("PoW valid: %v\n\n", meets)
	}
}

func (cli *CLI) getBlockNum() {
	cfg := LoadConfig()
	st := openStore(cfg)
	defer st.Close()
	chain, err := core.Open(st)
	if err != nil {
		log.Panic(err)
	}
	fmt.Printf("%d\n", chain.Height())
}

func (cli *CLI) getBalance(addr string) {
	if !core.ValidateAddress(addr) {
		printErr("error: address is not valid")
		os.Exit(1)
	}
	cfg := LoadConfig()
	st := openStore(cfg)
	defer st.Close()
	if _, err := core.Open(st); err != nil {
		log.Panic(err)
	}
	utxo := core.NewUTXOSet(st)
	balance, err := utxo.BalanceOf(addr)
	if err != nil {
		log.Panic(err)
	}
	printInfo("balance of %s: %d", addr, balance)
}

// send builds, signs and admits a P2PKH transfer from src to dst. If
// mineNow is set, it is mined immediately on this node; otherwise it
// is left in the local mempool and its store mirror. This command does
// not broadcast the transaction to any peer.
func (cli *CLI) send(src, dst string, amount, fee int64, mineNow bool) {
	if !core.ValidateAddress(src) || !core.ValidateAddress(dst) {
		printErr("error: source or destination address is not valid")
		os.Exit(1)
	}

	cfg := LoadConfig()
	st, chain, utxo, pool, validator := openNode(cfg)
	defer st.Close()

	wallets, err := core.NewWallets()
	if err != nil {
		log.Panic(err)
	}
	wallet, err := wallets.GetWallet(src)
	if err != nil {
		printErr("error: no local wallet for %s", src)
		os.Exit(1)
	}

	outputs, err := utxo.OutputsFor(src)
	if err != nil {
		log.Panic(err)
	}

	var vins []core.TxInput
	var gathered int64
	for op, out := range outputs {
		vins = append(vins, core.TxInput{RefTxid: op.Txid, RefIndex: op.Index, Sequence: 0xFFFFFFFF})
		gathered += out.Value
		if gathered >= amount+fee {
			break
		}
	}
	if gathered < amount+fee {
		printErr("error: insufficient funds: have %d, need %d", gathered, amount+fee)
		os.Exit(1)
	}

	vouts := []core.TxOutput{{Value: amount, PubKeyHash: dst}}
	if change := gathered - amount - fee; change > 0 {
		vouts = append(vouts, core.TxOutput{Value: change, PubKeyHash: src})
	}

	tx := core.NewTransaction(vins, vouts, fee, wallet.KeyPair())
	var admitted bool
	validator.Update(func() {
		admitted = pool.Add(tx)
	})
	if !admitted {
		printErr("error: transaction was rejected by the mempool")
		os.Exit(1)
	}
	printInfo("submitted transaction %s", tx.Txid)

	if mineNow {
		m := miner.New(chain, utxo, pool, src, cfg.Subsidy)
		block, err := m.MineBlock()
		if err != nil {
			log.Panic(err)
		}
		if err := validator.ValidateAndAppend(block); err != nil {
			log.Panic(err)
		}
		printInfo("mined block %d: %s", block.Header.Index, block.Hash)
	}
}

func (cli *CLI) mine(addr string) {
	if !core.ValidateAddress(addr) {
		printErr("error: address is not valid")
		os.Exit(1)
	}
	cfg := LoadConfig()
	st, chain, utxo, pool, validator := openNode(cfg)
	defer st.Close()

	m := miner.New(chain, utxo, pool, addr, cfg.Subsidy)
	block, err := m.MineBlock()
	if err != nil {
		log.Panic(err)
	}
	if err := validator.ValidateAndAppend(block); err != nil {
		log.Panic(err)
	}
	printInfo("mined block %d: %s", block.Header.Index, block.Hash)
}

// startNode boots the HTTP surface, the periodic sync daemon, and, if
// minerAddr is set, a continuous mining loop. It blocks until the
// server fails or the process receives a shutdown signal.
func (cli *CLI) startNode(minerAddr string) {
	if minerAddr != "" && !core.ValidateAddress(minerAddr) {
		log.Panic(fmt.Errorf("cmd: miner address %q is not valid", minerAddr))
	}

	cfg := LoadConfig()
	st, chain, utxo, pool, validator := openNode(cfg)

	peers, err := p2p.NewPeerTable(st)
	if err != nil {
		log.Panic(err)
	}

	node := p2p.NewNode(chain, utxo, pool, validator, peers, cfg.P2PPort, cfg.APIPort)

	for _, addr := range cfg.SeedPeers {
		if err := peers.Add(addr, node.ProbeHeight); err != nil {
			printWarn("warning: could not add seed peer %s: %v", addr, err)
		}
	}

	go node.RunSync(cfg.SyncInterval)

	if minerAddr != "" {
		printInfo("mining enabled, reward address: %s", minerAddr)
		go runMiningLoop(node, chain, utxo, pool, validator, minerAddr, cfg.Subsidy)
	}

	printInfo("node listening: p2p=:%d api=:%d", cfg.P2PPort, cfg.APIPort)
	if err := node.ListenAndServe(); err != nil {
		log.Panic(err)
	}
}

// runMiningLoop repeatedly mines a block and presents it to the
// validator; the miner itself never appends or broadcasts. A race
// with a peer-delivered block at the same height
// surfaces here as a rejected ValidateAndAppend, which is logged and
// simply retried against the new tip.
func runMiningLoop(node *p2p.Node, chain *core.BlockChain, utxo *core.UTXOSet, pool *mempool.Mempool, validator *core.Validator, addr string, subsidy int64) {
	m := miner.New(chain, utxo, pool, addr, subsidy)
	for {
		block, err := m.MineBlock()
		if err != nil {
			printErr("miner: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if err := validator.ValidateAndAppend(block); err != nil {
			printWarn("miner: block %s lost the race: %v", block.Hash, err)
			continue
		}
		printInfo("mined and appended block %d: %s", block.Header.Index, block.Hash)
		node.BroadcastBlock(block)
	}
}

// remotePeerCall issues a peer-table mutation against a running node's
// HTTP surface rather than touching local state directly.
func (cli *CLI) remotePeerCall(node, method, path, peerAddr string) {
	body, _ := json.Marshal(map[string]string{"address": peerAddr})
	req, err := http.NewRequest(method, fmt.Sprintf("http://%s%s", node, path), bytes.NewReader(body))
	if err != nil {
		log.Panic(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		printErr("error: request to %s failed: %v", node, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 300 {
		printErr("error: %v", out)
		os.Exit(1)
	}
	printInfo("ok: %v", out)
}

func (cli *CLI) listRemotePeers(node string) {
	resp, err := http.Get(fmt.Sprintf("http://%s/peers", node))
	if err != nil {
		printErr("error: request to %s failed: %v", node, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	var addrs []string
	if err := json.NewDecoder(resp.Body).Decode(&addrs); err != nil {
		log.Panic(err)
	}
	for i, addr := range addrs {
		fmt.Printf("#%d: %s\n", i, addr)
	}
}
