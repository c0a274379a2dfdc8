package model

import "time"

// ThreadOccurrence records that a thread with the referenced stack was seen
// in a thread dump.
type ThreadOccurrence struct {
	Timestamp  time.Time `json:"timestamp"`
	MetadataID string    `json:"metadata_id"`
	DumpID     string    `json:"dump_id"`
	Count      int       `json:"count,omitempty"`
}

// Weight returns the occurrence count, treating zero as a single sighting.
func (o ThreadOccurrence) Weight() int {
	if o.Count <= 0 {
		return 1
	}
	return o.Count
}

// FlowOccurrence records that a flow edge was observed while the dump
// identified by DumpID was being captured.
type FlowOccurrence struct {
	Timestamp  time.Time `json:"timestamp"`
	MetadataID string    `json:"metadata_id"`
	DumpID     string    `json:"dump_id"`
	Count      int       `json:"count,omitempty"`
}

// Weight returns the occurrence count, treating zero as a single sighting.
func (o FlowOccurrence) Weight() int {
	if o.Count <= 0 {
		return 1
	}
	return o.Count
}

// LoadSample is a point-in-time load measurement pushed by the agent.
type LoadSample struct {
	Timestamp   time.Time `json:"timestamp"`
	CPULoad     float64   `json:"cpu_load"`
	HeapUsed    int64     `json:"heap_used"`
	ThreadCount int       `json:"thread_count"`
}
