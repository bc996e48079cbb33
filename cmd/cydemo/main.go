// cydemo is a tool for evaluating the node-ID and topic-allocation
// convergence properties of this package's CRDT gossip protocol.
package main

import (
	"math/rand"
	"time"

	"github.com/pavel-kirienko/cy/cmd/cydemo/cmd"
)

func main() {
	rand.Seed(time.Now().UTC().UnixNano())

	cmd.Execute()
}
