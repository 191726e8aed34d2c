package domain

// StatusTransportFailure marks an outcome for which no HTTP response was received.
const StatusTransportFailure = 0

// RequestOutcome is the result of dispatching one target.
type RequestOutcome struct {
	Target       RegistrationTarget
	StatusCode   int
	ResponseBody string
}

// Failed reports whether the call failed at the transport or application level.
func (o RequestOutcome) Failed() bool {
	return o.StatusCode < 200 || o.StatusCode >= 300
}

// TransportFailed reports whether no response was received.
func (o RequestOutcome) TransportFailed() bool {
	return o.StatusCode == StatusTransportFailure
}
