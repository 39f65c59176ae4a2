package wire

import "github.com/haukened/egress-guard/internal/guard/domain"

// FlowCodec turns one line of capture output into a flow event.
// Decode never fails: an event without a destination means "no event".
type FlowCodec interface {
	Decode(line string) domain.FlowEvent
}
