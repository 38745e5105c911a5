package conversation

import (
	"time"

	"github.com/soyeahso/minichat/internal/domain"
)

// DefaultGroupGap is the largest gap between consecutive messages of one
// sender that still renders them as one group.
const DefaultGroupGap = 5 * time.Minute

// Group is a display run of consecutive messages from one sender.
type Group struct {
	SenderID string
	Messages []domain.Message
	Start    domain.Timestamp
	End      domain.Timestamp
}

// GroupMessages splits an ordered sequence into runs. A new run starts when
// the sender changes or the gap from the previous message exceeds gap.
// The input is not modified.
func GroupMessages(msgs []domain.Message, gap time.Duration) []Group {
	if len(msgs) == 0 {
		return nil
	}
	if gap <= 0 {
		gap = DefaultGroupGap
	}

	var groups []Group
	start := 0
	for i := 1; i <= len(msgs); i++ {
		if i < len(msgs) &&
			msgs[i].SenderID == msgs[i-1].SenderID &&
			msgs[i].CreatedAt.Sub(msgs[i-1].CreatedAt) <= gap {
			continue
		}
		run := msgs[start:i:i]
		groups = append(groups, Group{
			SenderID: run[0].SenderID,
			Messages: run,
			Start:    run[0].CreatedAt,
			End:      run[len(run)-1].CreatedAt,
		})
		start = i
	}
	return groups
}
