package cmd

import (
	"encoding/binary"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pavel-kirienko/cy"
)

// instanceUID derives a non-zero 64-bit Config.UID from a fresh UUID, so
// repeated cydemo invocations don't collide on the PRNG-whitening seed.
func instanceUID() uint64 {
	id := uuid.New()
	v := binary.BigEndian.Uint64(id[:8])
	if v == 0 {
		v = 1
	}
	return v
}

var (
	serveBindAddr      string
	serveBroadcastAddr string
	serveTopic         string
)

func init() {
	serveCmd.Flags().StringVar(&serveBindAddr, "bind", "0.0.0.0:7509", "UDP address to listen on")
	serveCmd.Flags().StringVar(&serveBroadcastAddr, "broadcast", "255.255.255.255:7509", "UDP broadcast address to publish on")
	serveCmd.Flags().StringVar(&serveTopic, "topic", "~/hello", "topic to publish a counter on")
	rootCmd.AddCommand(serveCmd)
}

// serveCmd only wires a real transport (UDPPlatform, in udpplatform.go)
// to the core; it contains none of the core's own logic.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a live cy node over UDP broadcast",
	Run: func(cmd *cobra.Command, args []string) {
		logger, err := zap.NewDevelopment()
		if err != nil {
			log.Fatalf("failed to build logger: %v", err)
		}
		defer logger.Sync()

		platform, err := NewUDPPlatform(serveBindAddr, serveBroadcastAddr, logger)
		if err != nil {
			log.Fatalf("failed to start udp platform: %v", err)
		}
		defer platform.Close()

		node, err := cy.Create(cy.Config{
			Platform:  platform,
			UID:       instanceUID(),
			Namespace: "/cydemo",
			Name:      "cydemo",
			Logger:    logger,
		})
		if err != nil {
			log.Fatalf("failed to create node: %v", err)
		}
		platform.SetNode(node)

		topic, err := node.NewTopic(serveTopic)
		if err != nil {
			log.Fatalf("failed to create topic %q: %v", serveTopic, err)
		}
		if _, err := topic.Subscribe(func(t cy.Transfer) {
			logger.Info("received transfer", zap.Uint16("sender", t.SenderNodeID), zap.Int("bytes", len(t.Payload)))
		}); err != nil {
			log.Fatalf("failed to subscribe to %q: %v", serveTopic, err)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		var counter uint64
		for {
			select {
			case <-sig:
				logger.Info("shutting down")
				return
			case <-ticker.C:
				now := platform.Now()
				platform.DrainInto(node, now)
				if err := node.Update(now); err != nil {
					logger.Warn("update failed", zap.Error(err))
				}
				counter++
				payload := []byte{byte(counter), byte(counter >> 8), byte(counter >> 16), byte(counter >> 24)}
				if err := topic.Publish(now+int64(time.Second/time.Microsecond), payload); err != nil {
					logger.Warn("publish failed", zap.Error(err))
				}
			}
		}
	},
}
