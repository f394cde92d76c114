package driftmq

// byeCommand is the one built-in, categoryless primitive from lokimq.h's
// proxy_handle_builtin: a bare "BYE" token (no "category." prefix) that
// tears down the sender's connection instead of being resolved through the
// category registry.
const byeCommand = "BYE"

// handleBuiltin intercepts primitives that never go through category
// resolution or the worker pool. Reports whether it consumed the token.
func (p *Proxy) handleBuiltin(pubkey [32]byte, rec *peerRecord, token string) bool {
	if token != byeCommand {
		return false
	}
	p.log.Debug("proxy: BYE received", "pubkey", pubkey)
	if rec.outgoingSlot >= 0 {
		sock := p.peers.remotes[rec.outgoingSlot].sock
		p.peers.removeRemoteAt(rec.outgoingSlot)
		_ = sock.Close()
	}
	rec.outgoingSlot = -1
	rec.incomingRoute = nil
	p.peers.removeIfOrphaned(pubkey)
	return true
}
