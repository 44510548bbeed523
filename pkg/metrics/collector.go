package metrics

import (
	"time"

	"github.com/vapter/vapter/pkg/storage"
	"github.com/vapter/vapter/pkg/types"
)

// Collector samples inventory and pipeline gauges from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectInventoryMetrics()
	c.collectScanMetrics()
}

func (c *Collector) collectInventoryMetrics() {
	if customers, err := c.store.ListCustomers(); err == nil {
		CustomersTotal.Set(float64(len(customers)))
	}
	if targets, err := c.store.ListTargets(); err == nil {
		TargetsTotal.Set(float64(len(targets)))
	}
	if scanTypes, err := c.store.ListScanTypes(); err == nil {
		ScanTypesTotal.Set(float64(len(scanTypes)))
	}
	if portLists, err := c.store.ListPortLists(); err == nil {
		PortListsTotal.Set(float64(len(portLists)))
	}
}

func (c *Collector) collectScanMetrics() {
	scans, err := c.store.ListScans()
	if err != nil {
		return
	}

	counts := make(map[types.ScanStatus]int)
	for _, scan := range scans {
		counts[scan.Status]++
	}

	// Zero stale statuses so a drained state does not stick
	ScansTotal.Reset()
	for status, count := range counts {
		ScansTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
