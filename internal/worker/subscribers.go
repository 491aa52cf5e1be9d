package worker

// Subscriber attaches event handlers to the dispatcher.
type Subscriber interface {
	RegisterHandlers()
}

// RegisterSubscribers registers every non-nil subscriber in order.
func RegisterSubscribers(subscribers ...Subscriber) {
	for _, subscriber := range subscribers {
		if subscriber == nil {
			continue
		}
		subscriber.RegisterHandlers()
	}
}
