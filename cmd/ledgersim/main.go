// Command ledgersim runs an in-memory ledger node for local development.
// Every operation finalizes immediately; nothing is persisted.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/clawgig/clawgig/coordinator/ledger/ledgertest"
)

var (
	addr  string
	owner string
)

func init() {
	flag.StringVar(&addr, "addr", "127.0.0.1:8400", "The address to listen on.")
	flag.StringVar(&owner, "owner", "", "The owner identity escrows report as linked.")
}

func main() {
	flag.Parse()

	srv, err := ledgertest.NewServer(addr)
	if err != nil {
		log.Fatal(err)
	}
	defer srv.Close()

	if owner != "" {
		srv.SetLinkedOwner(owner)
	}

	fmt.Printf("ledgersim listening on %s (linked owner %s)\n", srv.Addr(), srv.LinkedOwner())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
