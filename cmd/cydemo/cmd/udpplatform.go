package cmd

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pavel-kirienko/cy"
	"github.com/pavel-kirienko/cy/internal/bloom"
)

// envelope kinds, prefixed to every UDP datagram so demo peers sharing one
// broadcast address can demultiplex topic transfers from RPC requests.
const (
	envelopeTopicTransfer    byte = 0
	envelopeResponseTransfer byte = 1
)

type udpPacket struct {
	buf []byte
}

// UDPPlatform is a demo cy.Platform over UDP broadcast. The concrete
// transport is explicitly out of scope of the core (spec §1); this exists
// only to let cydemo instances on a LAN interoperate.
type UDPPlatform struct {
	conn      *net.UDPConn
	broadcast *net.UDPAddr
	packetCh  chan *udpPacket
	shutdown  int32
	logger    *zap.Logger

	node   *cy.Node
	nodeID uint16
	bloom  *bloom.Filter
}

// NewUDPPlatform listens on bindAddr and broadcasts to broadcastAddr
// (typically the subnet's broadcast address on the same port).
func NewUDPPlatform(bindAddr, broadcastAddr string, logger *zap.Logger) (*UDPPlatform, error) {
	laddr, err := net.ResolveUDPAddr("udp4", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	baddr, err := net.ResolveUDPAddr("udp4", broadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast addr: %w", err)
	}

	p := &UDPPlatform{
		conn:      conn,
		broadcast: baddr,
		packetCh:  make(chan *udpPacket, 256),
		logger:    logger,
		nodeID:    cy.NodeIDUnset,
		bloom:     bloom.New(4096),
	}
	go p.readLoop()
	return p, nil
}

func (p *UDPPlatform) SetNode(n *cy.Node) { p.node = n }

func (p *UDPPlatform) Close() error {
	atomic.StoreInt32(&p.shutdown, 1)
	return p.conn.Close()
}

func (p *UDPPlatform) readLoop() {
	buf := make([]byte, 65536)
	for {
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if atomic.LoadInt32(&p.shutdown) == 1 {
				return
			}
			p.logger.Error("udp read failed", zap.Error(err))
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		p.packetCh <- &udpPacket{buf: cp}
	}
}

// DrainInto ingests every packet currently queued into node, implementing
// the embedder's "ingest before update" ordering obligation (spec §5).
func (p *UDPPlatform) DrainInto(node *cy.Node, now int64) {
	for {
		select {
		case pkt := <-p.packetCh:
			p.dispatch(node, now, pkt.buf)
		default:
			return
		}
	}
}

func (p *UDPPlatform) dispatch(node *cy.Node, now int64, buf []byte) {
	if len(buf) < 1 {
		return
	}
	switch buf[0] {
	case envelopeTopicTransfer:
		if len(buf) < 1+2+2+8+1 {
			return
		}
		subjectID := binary.BigEndian.Uint16(buf[1:3])
		senderNodeID := binary.BigEndian.Uint16(buf[3:5])
		transferID := binary.BigEndian.Uint64(buf[5:13])
		priority := buf[13]
		if err := node.IngestTopicTransfer(subjectID, senderNodeID, transferID, priority, now, buf[14:]); err != nil {
			p.logger.Warn("ingest topic transfer failed", zap.Error(err))
		}
	case envelopeResponseTransfer:
		if len(buf) < 1+2+2+2+8 {
			return
		}
		destNodeID := binary.BigEndian.Uint16(buf[1:3])
		senderNodeID := binary.BigEndian.Uint16(buf[3:5])
		transferID := binary.BigEndian.Uint64(buf[7:15])
		if destNodeID != p.nodeID {
			return
		}
		if err := node.IngestTopicResponseTransfer(senderNodeID, transferID, buf[15:], now); err != nil {
			p.logger.Warn("ingest response transfer failed", zap.Error(err))
		}
	}
}

func (p *UDPPlatform) Now() int64 { return int64(nowMicros()) }

func (p *UDPPlatform) PRNG() uint64 { return pseudoRandomUint64() }

func (p *UDPPlatform) BufferRelease(buf []byte) {}

func (p *UDPPlatform) NodeIDSet(nodeID uint16) error {
	p.nodeID = nodeID
	return nil
}

func (p *UDPPlatform) NodeIDClear() { p.nodeID = cy.NodeIDUnset }

func (p *UDPPlatform) NodeIDBloom() *bloom.Filter { return p.bloom }

func (p *UDPPlatform) Request(destNodeID, serviceID uint16, transferID uint64, deadline int64, payload []byte) error {
	buf := make([]byte, 1+2+2+2+8+len(payload))
	buf[0] = envelopeResponseTransfer
	binary.BigEndian.PutUint16(buf[1:3], destNodeID)
	binary.BigEndian.PutUint16(buf[3:5], p.nodeID)
	binary.BigEndian.PutUint16(buf[5:7], serviceID)
	binary.BigEndian.PutUint64(buf[7:15], transferID)
	copy(buf[15:], payload)
	_, err := p.conn.WriteToUDP(buf, p.broadcast)
	return err
}

func (p *UDPPlatform) TopicNew() (cy.TopicHandle, error) { return new(struct{}), nil }

func (p *UDPPlatform) TopicDestroy(handle cy.TopicHandle) error { return nil }

func (p *UDPPlatform) TopicPublish(handle cy.TopicHandle, subjectID uint16, transferID uint64, deadline int64, payload []byte) error {
	buf := make([]byte, 1+2+2+8+1+len(payload))
	buf[0] = envelopeTopicTransfer
	binary.BigEndian.PutUint16(buf[1:3], subjectID)
	binary.BigEndian.PutUint16(buf[3:5], p.nodeID)
	binary.BigEndian.PutUint64(buf[5:13], transferID)
	buf[13] = 0
	copy(buf[14:], payload)
	_, err := p.conn.WriteToUDP(buf, p.broadcast)
	return err
}

func (p *UDPPlatform) TopicSubscribe(handle cy.TopicHandle, subjectID uint16) error { return nil }

func (p *UDPPlatform) TopicUnsubscribe(handle cy.TopicHandle, subjectID uint16) error { return nil }

func (p *UDPPlatform) TopicHandleResubscriptionError(handle cy.TopicHandle, err error) {
	p.logger.Warn("resubscription failed", zap.Error(err))
}

func (p *UDPPlatform) NodeIDMax() uint16 { return 65534 }

func (p *UDPPlatform) TransferIDMask() uint64 { return ^uint64(0) }
