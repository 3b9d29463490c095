package atmi

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/typedbuf/internal/buffer"
	"github.com/danmuck/typedbuf/internal/codec"
	"github.com/danmuck/typedbuf/internal/observability"
	"github.com/rs/zerolog/log"
)

// subscription routes posted events whose name matches expr to a service.
type subscription struct {
	id      int64
	expr    *regexp.Regexp
	service string
}

// Subscribe routes events whose name matches the regular expression expr
// to the request/reply service svc and returns the subscription id. The
// service is resolved at post time.
func (b *Bus) Subscribe(expr, svc string) (int64, error) {
	svc = strings.TrimSpace(svc)
	if svc == "" {
		return 0, fmt.Errorf("%w: empty service name", ErrNoEntry)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return 0, fmt.Errorf("atmi: event expression %q: %w", expr, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	b.subs[b.nextSub] = &subscription{id: b.nextSub, expr: re, service: svc}
	log.Debug().Int64("subscription", b.nextSub).Str("expr", expr).Str("service", svc).Msg("event subscribed")
	return b.nextSub, nil
}

// Unsubscribe removes one subscription, or every subscription when id is
// negative, and returns how many were removed.
func (b *Bus) Unsubscribe(id int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id < 0 {
		n := len(b.subs)
		clear(b.subs)
		return n, nil
	}
	if _, ok := b.subs[id]; !ok {
		return 0, fmt.Errorf("%w: subscription %d", ErrNoEntry, id)
	}
	delete(b.subs, id)
	return 1, nil
}

func (b *Bus) matching(event string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*subscription
	for _, sub := range b.subs {
		if sub.expr.MatchString(event) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Post delivers data to every service subscribed to event, in subscription
// order, and returns how many deliveries succeeded. Replies are discarded.
// The caller keeps ownership of data.
func (b *Bus) Post(ctx context.Context, c *Context, event string, data buffer.Buffer) (int, error) {
	if strings.TrimSpace(event) == "" {
		return 0, fmt.Errorf("%w: empty event name", ErrNoEntry)
	}
	subs := b.matching(event)
	if len(subs) == 0 {
		return 0, nil
	}
	req, err := exportMessage(c, codec.Message{Data: data})
	if err != nil {
		return 0, err
	}
	req.event = event

	delivered := 0
	for _, sub := range subs {
		start := time.Now()
		s, err := b.lookup(sub.service, false)
		if err != nil {
			log.Warn().Err(err).Str("event", event).Int64("subscription", sub.id).Msg("event subscriber unavailable")
			continue
		}
		out, err := b.dispatch(ctx, s, 0, FlagNoReply, req)
		ok := err == nil && out.rcode == 0
		observability.RecordServiceCall(s.name, "post", time.Since(start), ok)
		if !ok {
			log.Debug().Err(err).Str("event", event).Str("service", s.name).Int("rcode", out.rcode).Msg("event delivery failed")
			continue
		}
		delivered++
	}
	return delivered, nil
}
