package page

// ConsoleMessage is a console API call made by page scripts.
type ConsoleMessage struct {
	Type string // engine console type: log, debug, info, warning, error, ...
	Text string
}

// Request is a network request as seen when it is sent.
type Request struct {
	Method string
	URL    string
}

// Response closes a request successfully.
type Response struct {
	CorrelationID string
	Status        int
	URL           string
}

// RequestFailure closes a request with an error.
type RequestFailure struct {
	CorrelationID string
	ErrorText     string
}

// FrameNavigation is reported for every committed frame navigation.
type FrameNavigation struct {
	TopLevel bool
	URL      string
}

// Handlers is the set of callbacks for one Listen subscription. Nil
// callbacks are not subscribed, so each collector only attaches to the
// event channels it consumes.
//
// OnRequest returns a correlation id (empty to ignore the request); the
// engine hands the same id to OnResponse or OnRequestFailed for that request.
type Handlers struct {
	OnConsole         func(ConsoleMessage)
	OnRequest         func(Request) string
	OnResponse        func(Response)
	OnRequestFailed   func(RequestFailure)
	OnFrameNavigation func(FrameNavigation)
}

// Empty reports whether no callback is set.
func (h Handlers) Empty() bool {
	return h.OnConsole == nil && h.OnRequest == nil && h.OnResponse == nil &&
		h.OnRequestFailed == nil && h.OnFrameNavigation == nil
}
