package model

import (
	"encoding/json"
	"time"
)

// MaxSampleData caps the payload excerpt carried by a sample.
const MaxSampleData = 64

// TrafficSample is one recorded observation of bytes moving on an
// endpoint. SampleData, when present, is truncated to MaxSampleData bytes.
type TrafficSample struct {
	Timestamp       time.Time `json:"timestamp"`
	SourcePort      uint16    `json:"source_port"`
	DestinationPort uint16    `json:"destination_port"`
	Protocol        Protocol  `json:"protocol"`
	PayloadSize     uint64    `json:"payload_size"`
	IsEncrypted     bool      `json:"is_encrypted"`
	SampleData      []byte    `json:"sample_data,omitempty"`
	PacketType      string    `json:"packet_type"`
}

// Truncate enforces the sample-data cap in place.
func (s *TrafficSample) Truncate() {
	if len(s.SampleData) > MaxSampleData {
		s.SampleData = s.SampleData[:MaxSampleData]
	}
}

// SampleStats summarizes the current sample window.
type SampleStats struct {
	Count             int     `json:"count"`
	BytesTotal        uint64  `json:"bytes_total"`
	AvgSize           float64 `json:"avg_size"`
	EncryptedFraction float64 `json:"encrypted_fraction"`
	UniquePeerPorts   int     `json:"unique_peer_ports"`
}

// SampleRing is a bounded FIFO of traffic samples. On overflow the oldest
// sample is evicted. The zero value is not usable; construct with
// NewSampleRing.
type SampleRing struct {
	samples []TrafficSample
	head    int
	size    int
	cap     int
}

// DefaultRingSize is the per-endpoint sample cap.
const DefaultRingSize = 1000

// NewSampleRing creates a ring holding at most capacity samples.
func NewSampleRing(capacity int) *SampleRing {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &SampleRing{
		samples: make([]TrafficSample, capacity),
		cap:     capacity,
	}
}

// Record appends a sample, evicting the oldest when full. O(1).
func (r *SampleRing) Record(s TrafficSample) {
	s.Truncate()
	idx := (r.head + r.size) % r.cap
	r.samples[idx] = s
	if r.size < r.cap {
		r.size++
	} else {
		r.head = (r.head + 1) % r.cap
	}
}

// Len returns the number of samples currently held.
func (r *SampleRing) Len() int { return r.size }

// Cap returns the ring capacity.
func (r *SampleRing) Cap() int { return r.cap }

// Samples returns the window oldest-first as a copy.
func (r *SampleRing) Samples() []TrafficSample {
	out := make([]TrafficSample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.samples[(r.head+i)%r.cap]
	}
	return out
}

// Stats computes aggregates over the current window only.
func (r *SampleRing) Stats() SampleStats {
	st := SampleStats{Count: r.size}
	if r.size == 0 {
		return st
	}
	ports := make(map[uint16]struct{})
	encrypted := 0
	for i := 0; i < r.size; i++ {
		s := r.samples[(r.head+i)%r.cap]
		st.BytesTotal += s.PayloadSize
		if s.IsEncrypted {
			encrypted++
		}
		ports[s.DestinationPort] = struct{}{}
	}
	st.AvgSize = float64(st.BytesTotal) / float64(r.size)
	st.EncryptedFraction = float64(encrypted) / float64(r.size)
	st.UniquePeerPorts = len(ports)
	return st
}

// MarshalJSON serializes the window oldest-first.
func (r *SampleRing) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Samples())
}

// UnmarshalJSON rebuilds the ring from a serialized window. The capacity
// is restored to the default cap unless the window is larger.
func (r *SampleRing) UnmarshalJSON(data []byte) error {
	var samples []TrafficSample
	if err := json.Unmarshal(data, &samples); err != nil {
		return err
	}
	capacity := DefaultRingSize
	if len(samples) > capacity {
		capacity = len(samples)
	}
	*r = *NewSampleRing(capacity)
	for _, s := range samples {
		r.Record(s)
	}
	return nil
}
