package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/pavel-kirienko/cy"
	"github.com/pavel-kirienko/cy/internal/testcluster"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Measure the simulated time for a subject-ID collision between two nodes to resolve",
	Run: func(cmd *cobra.Command, args []string) {
		net := testcluster.NewMockNetwork(0)

		a, err := net.NewParticipant(cy.Config{UID: 1, Namespace: "/demo"}, 128, 1)
		if err != nil {
			log.Fatalf("failed to create node a: %v", err)
		}
		// Force b's dynamic topic to contend for the same slot as a's
		// pinned one, per the preferred_topic_override stress-test knob
		// (spec.md §6), so the demo reliably exercises scenario 3 (pinned
		// beats dynamic) instead of waiting on a random hash collision.
		b, err := net.NewParticipant(cy.Config{UID: 2, Namespace: "/demo"}, 128, 2, cy.WithPreferredTopicOverride(100))
		if err != nil {
			log.Fatalf("failed to create node b: %v", err)
		}
		participants := []*testcluster.Participant{a, b}

		aID, err := a.Node.NewTopic("/100")
		if err != nil {
			log.Fatalf("failed to create pinned topic /100: %v", err)
		}
		bID, err := b.Node.NewTopic("y")
		if err != nil {
			log.Fatalf("failed to create topic y: %v", err)
		}

		const tick = 50_000 // 50ms
		converged := net.RunUntil(participants, tick, 1000, func() bool {
			return aID.SubjectID() != bID.SubjectID()
		})
		if !converged {
			log.Fatalf("timed out waiting for subject-id collision to resolve")
		}
		fmt.Printf("collision resolved by simulated t=%dus: /100=%d y=%d\n", net.Now(), aID.SubjectID(), bID.SubjectID())
	},
}
