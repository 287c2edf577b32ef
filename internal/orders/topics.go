package orders

import "strconv"

const (
	TopicOrderPlaced         = "order.placed"
	TopicOrderStatusUpdated  = "order.status.updated"
	TopicOrderCancelled      = "order.cancelled"
	TopicTransactionRecorded = "order.transaction.recorded"
)

var Topics = []string{TopicOrderPlaced, TopicOrderStatusUpdated, TopicOrderCancelled, TopicTransactionRecorded}

// Partition key = order id, so all events of one order stay ordered.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }
