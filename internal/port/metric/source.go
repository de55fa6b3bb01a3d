// Package metric defines the port for host metric collection.
package metric

import "context"

// Sample is one reading of the monitored host.
type Sample struct {
	CPUPercent    float64            `json:"cpu_percent"`
	MemoryPercent float64            `json:"memory_percent"`
	DiskPercent   map[string]float64 `json:"disk_percent"`
	ServicesDown  []string           `json:"services_down,omitempty"`
}

// Source collects metric samples. The sensor agent treats collection
// mechanics as opaque.
type Source interface {
	Collect(ctx context.Context) (Sample, error)
}
