package cluster

import "context"

// FakeClient is a test double for Client: it returns a fixed
// latency/error pair on every call, so the reachability prober's retry
// and cycle logic can be exercised without a live cluster.
type FakeClient struct {
	LatencyMS float64
	Err       error
}

func (f *FakeClient) Ping(ctx context.Context) (float64, error) {
	return f.LatencyMS, f.Err
}
