package network

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/parley/internal/packets"
)

// inbound is a decoded packet on its way through a connection's pipeline.
type inbound struct {
	packet packets.Packet
	info   packets.Info
	size   int
}

// stage handles an inbound packet and reports whether it should continue to the
// next stage.
type stage func(c *Connection, in *inbound) bool

type pipeline []stage

func (p pipeline) run(c *Connection, in *inbound) {
	for _, s := range p {
		if !s(c, in) {
			return
		}
	}
}

// buildPipeline assembles the inbound stages for one connection. The role's stages
// run right after tracing and send rule enforcement so a server drops everything
// but system packets from pending connections before replies are routed.
func (in *instance) buildPipeline() pipeline {
	stages := pipeline{in.traceInbound, in.checkSendRule}
	stages = append(stages, in.role.stages()...)
	return append(stages, in.resolveResponse, in.recordDisconnect, in.dispatch)
}

func (in *instance) traceInbound(c *Connection, msg *inbound) bool {
	in.tracePacket(c, "received", msg.packet, msg.size)
	return true
}

// checkSendRule drops packets the peer's side isn't allowed to send.
func (in *instance) checkSendRule(c *Connection, msg *inbound) bool {
	if rule := packets.RuleOf(msg.packet); !rule.Allows(c.Side().Peer()) {
		c.log().WithFields(logrus.Fields{
			"packet": msg.info.Name,
			"rule":   rule,
		}).Warnf("dropping packet the %s may not send", c.Side().Peer())
		return false
	}
	return true
}

// resolveResponse routes replies to the handler of the request they answer. A
// reply only settles a request that was sent over the same connection.
func (in *instance) resolveResponse(c *Connection, msg *inbound) bool {
	reply, ok := msg.packet.(packets.Respondable)
	if !ok || !reply.Correlation().Response {
		return true
	}

	id := reply.Correlation().ID
	handler, found := in.responses.resolve(id, c)
	if !found {
		c.log().WithFields(logrus.Fields{
			"packet":         msg.info.Name,
			"correlation_id": id,
		}).Warn("dropping response to an unknown or expired request")
		return false
	}

	func() {
		defer func() {
			if err := recover(); err != nil {
				c.log().WithField("packet", msg.info.Name).
					Errorf("response handler panicked: %v\n%s", err, debug.Stack())
			}
		}()
		handler(reply)
	}()
	return false
}

// recordDisconnect keeps the reason the peer gave for ending the connection. The
// packet still reaches listeners.
func (in *instance) recordDisconnect(c *Connection, msg *inbound) bool {
	if p, ok := msg.packet.(*packets.Disconnect); ok {
		c.setDisconnectReason(p.Reason, p.Detail)
		c.log().WithField("reason", p.Reason).Infof("peer disconnected: %s", p.Message())
	}
	return true
}

func (in *instance) dispatch(c *Connection, msg *inbound) bool {
	in.listeners.dispatch(c, msg.packet)
	return true
}
