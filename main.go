package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/quietloop/raftkv/kvstore"
	"github.com/quietloop/raftkv/raft"
	"github.com/quietloop/raftkv/transport"
)

// usage: raftkv <port> <id> <peer-id> [<peer-id> ...]
//
// Positional arguments only -- no flags, no environment variables, no
// config file. This is the whole of the replica process's CLI surface.
func main() {
	args := os.Args[1:]
	if len(args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <port> <id> <peer-id> [<peer-id> ...]\n", os.Args[0])
		os.Exit(1)
	}

	port, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", args[0], err)
		os.Exit(1)
	}
	id := args[1]
	peers := args[2:]

	conn, err := transport.Dial(port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to dial simulator on port %d: %v\n", port, err)
		os.Exit(1)
	}

	fsm := kvstore.New()
	replica := raft.New(id, peers, conn, fsm)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- replica.Run(ctx) }()

	select {
	case err := <-errCh:
		_ = conn.Close()
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "%s: event loop stopped: %v\n", id, err)
			os.Exit(1)
		}
	case <-ctx.Done():
		_ = conn.Close()
	}
}
