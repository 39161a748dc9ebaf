package order

// AllowedTransitions lists the structurally valid order status edges.
// COMPLETED and CANCELLED have no outgoing edges.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusReady, StatusCancelled},
	StatusReady:      {StatusCompleted},
}

// AllowedPaymentTransitions lists the valid payment status edges.
var AllowedPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentPaid:    {PaymentRefunded},
}

var (
	orderEdges   = buildEdgeSet(AllowedTransitions)
	paymentEdges = buildEdgeSet(AllowedPaymentTransitions)
)

func buildEdgeSet[S comparable](transitions map[S][]S) map[S]map[S]struct{} {
	set := make(map[S]map[S]struct{}, len(transitions))
	for from, tos := range transitions {
		next := make(map[S]struct{}, len(tos))
		for _, to := range tos {
			next[to] = struct{}{}
		}
		set[from] = next
	}
	return set
}

func CanTransition(from, to Status) bool {
	_, ok := orderEdges[from][to]
	return ok
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	_, ok := paymentEdges[from][to]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// ActiveStatuses are the states in which an order still awaits pickup.
var ActiveStatuses = []Status{StatusConfirmed, StatusProcessing, StatusReady}
