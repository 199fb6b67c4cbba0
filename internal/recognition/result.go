package recognition

type Kind int

const (
	KindPartial Kind = iota
	KindFinal
	KindUsage
	KindError
	KindTimeout
	KindComplete
)

func (k Kind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	case KindUsage:
		return "usage"
	case KindError:
		return "error"
	case KindTimeout:
		return "timeout"
	case KindComplete:
		return "complete"
	default:
		return "unknown"
	}
}

type Sentence struct {
	// Index is assigned by the session: finals are numbered from zero in
	// arrival order and a partial carries the index it will finalize as.
	Index   int
	Text    string
	BeginMs int64
	EndMs   int64
	End     bool
}

type Usage struct {
	EndMs           int64
	DurationSeconds int
}

type Result struct {
	Kind      Kind
	Sentence  Sentence
	Usage     *Usage
	Err       error
	RequestID string
}

func classify(resp *Response, matcher TimeoutMatcher) Result {
	if matcher.Matches(resp) {
		return Result{Kind: KindTimeout, Err: newSessionError(resp, true), RequestID: resp.RequestID}
	}
	if resp.StatusCode != StatusOK {
		return Result{Kind: KindError, Err: newSessionError(resp, false), RequestID: resp.RequestID}
	}
	if resp.Sentence != nil {
		kind := KindPartial
		if resp.Sentence.End {
			kind = KindFinal
		}
		return Result{Kind: kind, Sentence: *resp.Sentence, Usage: resp.Usage, RequestID: resp.RequestID}
	}
	if resp.Usage != nil {
		return Result{Kind: KindUsage, Usage: resp.Usage, RequestID: resp.RequestID}
	}
	return Result{Kind: KindComplete, RequestID: resp.RequestID}
}
