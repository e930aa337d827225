package report

import (
	"math"
	"strings"
)

// DefaultAPIPathFragment marks a request URL as an API call.
const DefaultAPIPathFragment = "/api/"

// Display values for measurements that could not be taken.
const (
	Undefined   = "undefined"
	Unavailable = "unavailable"
)

// AverageResponseLatency is the mean of timingEnd-timingStart over events with
// both timings. ok is false when no event qualifies.
func AverageResponseLatency(events []NetworkEvent) (avg float64, ok bool) {
	var sum float64
	n := 0
	for _, ev := range events {
		lat, has := ev.Latency()
		if !has {
			continue
		}
		sum += lat
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// APICall is one request whose URL matched the API fragment.
type APICall struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Status *int   `json:"status,omitempty"`
}

// APISummary describes the API traffic of a run.
type APISummary struct {
	Fragment   string    `json:"fragment"`
	Calls      []APICall `json:"calls"`
	Successful int       `json:"successful"`
}

// AverageStatus is the mean status over resolved calls, zero if none resolved.
func (s APISummary) AverageStatus() int {
	sum, n := 0, 0
	for _, c := range s.Calls {
		if c.Status != nil {
			sum += *c.Status
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

// SummarizeAPICalls filters events whose URL contains fragment. An empty
// fragment means DefaultAPIPathFragment. Only resolved calls with status
// below 400 count as successful.
func SummarizeAPICalls(events []NetworkEvent, fragment string) APISummary {
	if fragment == "" {
		fragment = DefaultAPIPathFragment
	}
	sum := APISummary{Fragment: fragment}
	for _, ev := range events {
		if !strings.Contains(ev.URL, fragment) {
			continue
		}
		sum.Calls = append(sum.Calls, APICall{Method: ev.Method, URL: ev.URL, Status: ev.Status})
		if ev.Status != nil && *ev.Status < 400 {
			sum.Successful++
		}
	}
	return sum
}

// MemorySample is a JS heap reading from the page.
type MemorySample struct {
	UsedHeap  int64 `json:"usedJSHeapSize"`
	TotalHeap int64 `json:"totalJSHeapSize"`
}

// MemoryDelta returns after.UsedHeap - before.UsedHeap in megabytes rounded
// to two decimals. ok is false when either sample is missing.
func MemoryDelta(before, after *MemorySample) (mb float64, ok bool) {
	if before == nil || after == nil {
		return 0, false
	}
	delta := float64(after.UsedHeap-before.UsedHeap) / 1024 / 1024
	return round2(delta), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
