package coap

import (
	"context"

	"github.com/jabolina/go-coap/pkg/coap/core"
)

// ObserveRelation is the client's handle on a long-running observation.
// Canceling it is cooperative: Cancel marks the relation
// canceled locally and, best-effort, sends a deregistering GET so the peer
// stops pushing notifications (RFC 7641 §3.6 active cancellation).
type ObserveRelation struct {
	client   *Client
	exchange *core.Exchange
	request  Message

	canceled bool
}

// Request returns the original GET that established this relation.
func (r *ObserveRelation) Request() Message {
	return r.request
}

// Canceled reports whether Cancel has been called on this relation.
func (r *ObserveRelation) Canceled() bool {
	return r.canceled
}

// Cancel proactively tears down the relation: it stops delivering further
// notifications locally and, if ctx is non-nil, sends a plain GET (same
// token, no Observe option) so a well-behaved peer deregisters it too. The
// local relation is considered canceled regardless of whether that GET
// succeeds.
func (r *ObserveRelation) Cancel(ctx context.Context) error {
	if r.canceled {
		return nil
	}
	r.canceled = true
	r.exchange.Cancel()

	if ctx == nil {
		return nil
	}

	m := r.request
	m.Options = dropObserveOption(m.Options)
	m.MessageID = 0
	_, err := r.client.do(ctx, m, -1)
	return err
}

func dropObserveOption(opts []Option) []Option {
	out := make([]Option, 0, len(opts))
	for _, o := range opts {
		if o.Number == OptionObserve {
			continue
		}
		out = append(out, o)
	}
	return out
}
