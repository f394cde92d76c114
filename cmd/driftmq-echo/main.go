// Command driftmq-echo runs a minimal driftmq service node that answers
// every "echo.ping" with a "bench.pong" carrying the same payload back,
// for use as the target end of driftmq-bench.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftmq/driftmq"
)

func main() {
	bind := flag.String("bind", "tcp://0.0.0.0:7777", "address to bind the listener on")
	privHex := flag.String("privkey", "", "hex-encoded x25519 private key (32 bytes); empty generates an ephemeral one")
	flag.Parse()

	var priv, pub [32]byte
	if *privHex != "" {
		raw, err := hex.DecodeString(*privHex)
		if err != nil || len(raw) != 32 {
			fmt.Fprintln(os.Stderr, "driftmq-echo: -privkey must be 64 hex characters")
			os.Exit(1)
		}
		copy(priv[:], raw)
		pub, err = driftmq.DerivePubkey(priv)
		if err != nil {
			fmt.Fprintln(os.Stderr, "driftmq-echo: derive pubkey:", err)
			os.Exit(1)
		}
	}

	log := driftmq.NewDevelopmentLogger()
	proxy, err := driftmq.New(pub, priv, true,
		driftmq.WithBindAddresses(*bind),
		driftmq.WithLogger(log),
		driftmq.WithGeneralWorkers(4),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "driftmq-echo: construct:", err)
		os.Exit(1)
	}

	if err := proxy.AddCategory("echo", driftmq.Access{AuthMin: driftmq.AuthNone}, 0, driftmq.DefaultMaxQueue); err != nil {
		fmt.Fprintln(os.Stderr, "driftmq-echo: add category:", err)
		os.Exit(1)
	}
	if err := proxy.AddCommand("echo", "ping", func(m *driftmq.Message) {
		m.Reply("bench.pong", partsOf(m.Data)...)
	}); err != nil {
		fmt.Fprintln(os.Stderr, "driftmq-echo: add command:", err)
		os.Exit(1)
	}

	if err := proxy.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "driftmq-echo: start:", err)
		os.Exit(1)
	}

	fmt.Printf("driftmq-echo listening on %s, pubkey=%s\n", *bind, hex.EncodeToString(proxy.Pubkey()[:]))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	_ = proxy.Close()
}

func partsOf(data [][]byte) []driftmq.SendOption {
	opts := make([]driftmq.SendOption, len(data))
	for i, d := range data {
		opts[i] = driftmq.Part(d)
	}
	return opts
}
