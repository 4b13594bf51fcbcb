package allocation

// Message is the only unit the bus accepts. The set of implementations is
// closed: every variant lives in this package.
type Message interface {
	MessageName() string
	message()
}

// Command is an instruction addressed to exactly one handler.
type Command interface {
	Message
	command()
}

// Event is a fact that already happened. Zero or more handlers may observe it.
type Event interface {
	Message
	event()
}

// Commands returns a zero value of every declared command variant.
func Commands() []Command {
	return []Command{
		Allocate{},
		CreateBatch{},
		ChangeBatchQuantity{},
	}
}

// Events returns a zero value of every declared event variant.
func Events() []Event {
	return []Event{
		Allocated{},
		Deallocated{},
		OutOfStock{},
	}
}
