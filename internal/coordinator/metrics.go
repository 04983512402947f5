package coordinator

// Metrics receives read-through events, labelled by domain.
type Metrics interface {
	// Hit is called when a request is answered from the store.
	Hit(domain string)

	// Miss is called when the store has no usable entry and a fetch follows.
	Miss(domain string)

	// FetchError is called when the upstream fetch or its store write fails.
	FetchError(domain string)

	// Refresh is called for every forced refresh.
	Refresh(domain string)
}

// NoopMetrics ignores every event.
type NoopMetrics struct{}

func (NoopMetrics) Hit(string)        {}
func (NoopMetrics) Miss(string)       {}
func (NoopMetrics) FetchError(string) {}
func (NoopMetrics) Refresh(string)    {}
