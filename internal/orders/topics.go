package orders

import "strconv"

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status.changed"
	TopicOrderItemsChanged  = "order.items.changed"
)

var AllTopics = []string{TopicOrderPlaced, TopicOrderStatusChanged, TopicOrderItemsChanged}

// OrderKey is the partition key: every event of one order lands on one
// partition and keeps its order.
func OrderKey(orderID int64) string { return strconv.FormatInt(orderID, 10) }
