package orders

// Status is the order lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPaid     Status = "PAID"
	StatusCanceled Status = "CANCELED"
	StatusExpired  Status = "EXPIRED"
)

// Orders are only settled by payment events. EXPIRED is a storable state that no
// transition produces.
var validNext = map[Status]map[Status]bool{
	StatusPending:  {StatusPaid: true, StatusCanceled: true},
	StatusPaid:     {},
	StatusCanceled: {},
	StatusExpired:  {},
}

var orderStatuses = []Status{StatusPending, StatusPaid, StatusCanceled, StatusExpired}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// OrderSourcesFor lists the statuses an order may be in for a move to `to`.
func OrderSourcesFor(to Status) []string {
	return sourcesFor(validNext, orderStatuses, to)
}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

var reservationNext = map[ReservationStatus]map[ReservationStatus]bool{
	ReservationActive:    {ReservationConfirmed: true, ReservationExpired: true},
	ReservationConfirmed: {},
	ReservationExpired:   {},
}

var reservationStatuses = []ReservationStatus{ReservationActive, ReservationConfirmed, ReservationExpired}

func CanTransitionReservation(from, to ReservationStatus) bool {
	return reservationNext[from][to]
}

func ReservationSourcesFor(to ReservationStatus) []string {
	return sourcesFor(reservationNext, reservationStatuses, to)
}

type PaymentIntentStatus string

const (
	IntentRequiresPaymentMethod PaymentIntentStatus = "REQUIRES_PAYMENT_METHOD"
	IntentProcessing            PaymentIntentStatus = "PROCESSING"
	IntentSucceeded             PaymentIntentStatus = "SUCCEEDED"
	IntentFailed                PaymentIntentStatus = "FAILED"
)

// Intents only move forward. SUCCEEDED and FAILED are terminal.
var intentNext = map[PaymentIntentStatus]map[PaymentIntentStatus]bool{
	IntentRequiresPaymentMethod: {IntentProcessing: true, IntentSucceeded: true, IntentFailed: true},
	IntentProcessing:            {IntentSucceeded: true, IntentFailed: true},
	IntentSucceeded:             {},
	IntentFailed:                {},
}

func CanTransitionIntent(from, to PaymentIntentStatus) bool {
	return intentNext[from][to]
}

var intentStatuses = []PaymentIntentStatus{IntentRequiresPaymentMethod, IntentProcessing, IntentSucceeded, IntentFailed}

// IntentSourcesFor lists the statuses an intent may be in for a move to `to`.
// Used to build conditional updates.
func IntentSourcesFor(to PaymentIntentStatus) []string {
	return sourcesFor(intentNext, intentStatuses, to)
}

func sourcesFor[S ~string](next map[S]map[S]bool, all []S, to S) []string {
	var out []string
	for _, from := range all {
		if next[from][to] {
			out = append(out, string(from))
		}
	}
	return out
}

func (s PaymentIntentStatus) Terminal() bool {
	return s == IntentSucceeded || s == IntentFailed
}

type ListMode string

const (
	ListActive ListMode = "ACTIVE"
	ListAll    ListMode = "ALL"
)
