package pipeline

// Envelope is the body of every API response.
type Envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func Success(data any) Envelope {
	return Envelope{OK: true, Data: data}
}

func Failure(message, code string) Envelope {
	return Envelope{OK: false, Error: message, Code: code}
}

// FailureFor maps err and returns the status alongside the envelope.
func FailureFor(err error) (int, Envelope) {
	status, code, message := MapError(err)
	return status, Failure(message, code)
}
