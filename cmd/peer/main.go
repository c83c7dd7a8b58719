// Command peer starts one swarm participant: `peer <peerID>` loads
// Common.cfg and PeerInfo.cfg from the working directory, listens for
// inbound connections, dials every peer listed earlier in the peer table,
// and runs until the whole swarm reports every piece downloaded by every
// participant, or until interrupted.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/EthanAGit/p2pProj/internal/bootstrap"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatalln("usage: peer <peerID>")
	}

	p, err := bootstrap.New(os.Args[1])
	if err != nil {
		log.Fatalln("peer:", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		p.Stop()
	}()

	err = p.Run()
	p.Stop()
	if err != nil {
		log.Fatalln("peer:", err)
	}
}
