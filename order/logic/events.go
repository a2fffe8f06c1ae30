package logic

// Event is a lifecycle change produced by OrderLogic.
type Event interface {
	EventType() string
}

// SubmissionStarted moves Draft to Submitting.
type SubmissionStarted struct {
	Attempt     *Attempt
	Fingerprint string
}

// ExternalConfirmationRequested records the redirect the shopper was sent to.
type ExternalConfirmationRequested struct {
	Token       string
	RedirectURL string
}

// OrderCompleted records the receipt.
type OrderCompleted struct {
	Confirmation *Confirmation
}

// OrderFailed records why the attempt failed.
type OrderFailed struct {
	Reason string
}

// DraftResumed returns the session to Draft after a failure or completion.
type DraftResumed struct {
	From State
}

// AttemptRestored rehydrates a redirect attempt from its durable snapshot in
// a session that did not start it.
type AttemptRestored struct {
	Attempt *Attempt
}

func (*SubmissionStarted) EventType() string             { return "SubmissionStarted" }
func (*ExternalConfirmationRequested) EventType() string { return "ExternalConfirmationRequested" }
func (*OrderCompleted) EventType() string                { return "OrderCompleted" }
func (*OrderFailed) EventType() string                   { return "OrderFailed" }
func (*DraftResumed) EventType() string                  { return "DraftResumed" }
func (*AttemptRestored) EventType() string               { return "AttemptRestored" }
