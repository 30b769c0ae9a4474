package tracker

// Matcher selects which pending request an inbound response resolves.
// It returns the ID of the matched request, or false when nothing matches.
// Implementations must not mutate pending.
type Matcher interface {
	Match(pending map[string]*Request, resp Response) (string, bool)
}

// ExactMatcher resolves a response only when it carries the ID of a pending
// request. Use it with transports that always echo request identifiers.
type ExactMatcher struct{}

func (ExactMatcher) Match(pending map[string]*Request, resp Response) (string, bool) {
	if resp.ID == "" {
		return "", false
	}
	if _, ok := pending[resp.ID]; ok {
		return resp.ID, true
	}
	return "", false
}

// HeuristicMatcher tries an exact ID match first, then falls back to the most
// recently started pending request on the response's channel or room.
//
// The fallback can attribute latency to the wrong request when several
// requests are in flight on one channel.
type HeuristicMatcher struct{}

func (HeuristicMatcher) Match(pending map[string]*Request, resp Response) (string, bool) {
	if id, ok := (ExactMatcher{}).Match(pending, resp); ok {
		return id, true
	}
	if resp.ChannelID == "" && resp.RoomID == "" {
		return "", false
	}

	var best *Request
	for _, req := range pending {
		if !req.belongsTo(resp.ChannelID) && !req.belongsTo(resp.RoomID) {
			continue
		}
		if best == nil || req.newerThan(best) {
			best = req
		}
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}
