package domain

// NotificationType is the closed set of notification kinds.
type NotificationType string

const (
	NotificationPost        NotificationType = "POST"
	NotificationLikePost    NotificationType = "LIKE_POST"
	NotificationLikeComment NotificationType = "LIKE_COMMENT"
	NotificationComment     NotificationType = "COMMENT"
	NotificationChat        NotificationType = "CHAT"
	NotificationMention     NotificationType = "MENTION"
	NotificationAdmin       NotificationType = "ADMIN"
)

// AllNotificationTypes lists every known notification type.
var AllNotificationTypes = []NotificationType{
	NotificationPost,
	NotificationLikePost,
	NotificationLikeComment,
	NotificationComment,
	NotificationChat,
	NotificationMention,
	NotificationAdmin,
}

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	_, ok := t.aggregatable()
	return ok
}

// Aggregatable reports whether repeated events on the same reference fold into
// one notification instead of creating new ones.
func (t NotificationType) Aggregatable() bool {
	agg, _ := t.aggregatable()
	return agg
}

func (t NotificationType) aggregatable() (agg, known bool) {
	switch t {
	case NotificationLikePost, NotificationLikeComment, NotificationComment:
		return true, true
	case NotificationPost, NotificationChat, NotificationMention, NotificationAdmin:
		return false, true
	}
	return false, false
}

// Notification is a (possibly aggregated) notification entity.
type Notification struct {
	ID                  string           `json:"id" validate:"required"`
	Type                NotificationType `json:"type" validate:"required"`
	ReferenceID         string           `json:"referenceId"`
	AggregatedUserIDs   []string         `json:"aggregatedUserIds"`
	AggregatedUserNames []string         `json:"aggregatedUserNames,omitempty"`
	CreatedAt           Timestamp        `json:"createdAt"`
	LastActivityAt      Timestamp        `json:"lastActivityAt"`
	ReadAt              *Timestamp       `json:"readAt,omitempty"`
	IsRead              bool             `json:"isRead"`
}

// HasActor reports whether actorID is already aggregated into n.
func (n *Notification) HasActor(actorID string) bool {
	for _, id := range n.AggregatedUserIDs {
		if id == actorID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to other goroutines.
func (n *Notification) Clone() Notification {
	c := *n
	c.AggregatedUserIDs = append([]string(nil), n.AggregatedUserIDs...)
	c.AggregatedUserNames = append([]string(nil), n.AggregatedUserNames...)
	if n.ReadAt != nil {
		r := *n.ReadAt
		c.ReadAt = &r
	}
	return c
}

// NotificationList is the shape returned by the notification list endpoint.
type NotificationList struct {
	UnreadCount int            `json:"unreadCount"`
	Data        []Notification `json:"data" validate:"dive"`
}
