package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/pavel-kirienko/cy"
	"github.com/pavel-kirienko/cy/internal/testcluster"
)

func init() {
	rootCmd.AddCommand(discoverCmd)
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Measure the simulated time for every node in a cluster to auto-allocate a node-ID",
	Run: func(cmd *cobra.Command, args []string) {
		const n = 32
		net := testcluster.NewMockNetwork(0)

		participants := make([]*testcluster.Participant, 0, n)
		for i := 0; i < n; i++ {
			p, err := net.NewParticipant(cy.Config{UID: uint64(i + 1), Namespace: "/demo"}, 128, int64(i))
			if err != nil {
				log.Fatalf("failed to create node: %v", err)
			}
			participants = append(participants, p)
		}

		const tick = 50_000 // 50ms
		converged := net.RunUntil(participants, tick, 1000, func() bool {
			for _, p := range participants {
				if p.Node.NodeID() == cy.NodeIDUnset {
					return false
				}
			}
			return true
		})
		if !converged {
			log.Fatalf("timed out waiting for all %d nodes to claim a node-id", n)
		}
		fmt.Printf("all %d nodes claimed a node-id by simulated t=%dus\n", n, net.Now())
	},
}
