package recognition

const (
	DefaultTimeoutStatusCode = 44
	DefaultTimeoutCode       = "ResponseTimeout"
)

// TimeoutMatcher recognizes the service's idle-timeout response, which
// ends a session without being treated as a fault. Responses built with
// TimeoutResponse always match; the status code and code pair only applies
// to raw service errors.
type TimeoutMatcher struct {
	StatusCode int
	Code       string
}

func DefaultTimeoutMatcher() TimeoutMatcher {
	return TimeoutMatcher{StatusCode: DefaultTimeoutStatusCode, Code: DefaultTimeoutCode}
}

func (m TimeoutMatcher) orDefault() TimeoutMatcher {
	if m.StatusCode == 0 && m.Code == "" {
		return DefaultTimeoutMatcher()
	}
	return m
}

func (m TimeoutMatcher) Matches(resp *Response) bool {
	if resp == nil {
		return false
	}
	if resp.IdleTimeout {
		return true
	}
	return resp.StatusCode == m.StatusCode && resp.Code == m.Code
}

// TimeoutResponse builds the response adapters emit when their transport
// reports an idle timeout in its own terms.
func TimeoutResponse(message, requestID string) *Response {
	return &Response{
		StatusCode:  DefaultTimeoutStatusCode,
		Code:        DefaultTimeoutCode,
		Message:     message,
		RequestID:   requestID,
		IdleTimeout: true,
	}
}
