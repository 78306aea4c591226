package network

import (
	"context"

	mirror "github.com/drpcorg/mirror"
	"github.com/drpcorg/mirror/command"
	"github.com/drpcorg/mirror/protocol"
)

// RequestResync is a mirror.FailureHook answering a failed batch with a
// resync request to the peer that delivered it. Batches that did not come
// from the network are ignored.
func RequestResync(ctx context.Context, ce *mirror.ConsistencyError) {
	p, ok := PeerFrom(ctx)
	if !ok {
		return
	}
	if err := p.Send(protocol.Records{command.ResyncRequest(ce.Error())}); err != nil {
		p.log.WarnCtx(ctx, "net: couldn't request resync", "err", err)
		return
	}
	p.log.InfoCtx(ctx, "net: resync requested", "reason", ce.Reason)
}

var _ mirror.FailureHook = RequestResync
