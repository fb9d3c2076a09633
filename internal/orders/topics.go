package orders

const (
	TopicReservations          = "flashsale.reservations"
	TopicOrders                = "flashsale.orders"
	TopicPayments              = "flashsale.payments"
	TopicPaymentProviderEvents = "payment.provider.events"
)

// Partition key = order or reservation id so events of one aggregate keep their order.
func PartitionKey(id string) []byte { return []byte(id) }
