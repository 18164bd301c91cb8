package ledger

import "fmt"

// CallError is a structured rejection from the remote write API: the call
// reached the ledger and the ledger said no. It is distinct from transport
// errors, which come back as plain errors. Callers discriminate with
// errors.As.
type CallError struct {
	Reason string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("ledger rejected call: %s", e.Reason)
}
