package metrics

import (
	"time"

	"github.com/cuemby/herald/pkg/types"
)

// QueueStats reports job counts for the collector
type QueueStats interface {
	CountByState() (map[string]int, error)
	CountRepeatRules() (int, error)
}

// ReminderLister lists reminders for the collector
type ReminderLister interface {
	ListReminders() ([]*types.Reminder, error)
}

// SubscriberCounter reports open client streams
type SubscriberCounter interface {
	TotalSubscribers() int
}

// Collector periodically samples gauges from the queue, the store and the broker
type Collector struct {
	queue       QueueStats
	reminders   ReminderLister
	subscribers SubscriberCounter
	interval    time.Duration
	stopCh      chan struct{}
}

// NewCollector creates a new metrics collector. Any source may be nil.
func NewCollector(queue QueueStats, reminders ReminderLister, subscribers SubscriberCounter) *Collector {
	return &Collector{
		queue:       queue,
		reminders:   reminders,
		subscribers: subscribers,
		interval:    15 * time.Second,
		stopCh:      make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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
	c.collectQueueMetrics()
	c.collectReminderMetrics()

	if c.subscribers != nil {
		SubscribersActive.Set(float64(c.subscribers.TotalSubscribers()))
	}
}

func (c *Collector) collectQueueMetrics() {
	if c.queue == nil {
		return
	}

	counts, err := c.queue.CountByState()
	if err != nil {
		UpdateComponent("queue", false, err.Error())
		return
	}
	UpdateComponent("queue", true, "")

	for state, count := range counts {
		JobsTotal.WithLabelValues(state).Set(float64(count))
	}

	if n, err := c.queue.CountRepeatRules(); err == nil {
		RepeatRulesTotal.Set(float64(n))
	}
}

func (c *Collector) collectReminderMetrics() {
	if c.reminders == nil {
		return
	}

	reminders, err := c.reminders.ListReminders()
	if err != nil {
		UpdateComponent("storage", false, err.Error())
		return
	}
	UpdateComponent("storage", true, "")

	counts := map[types.ReminderStatus]int{
		types.ReminderStatusScheduled: 0,
		types.ReminderStatusCompleted: 0,
		types.ReminderStatusFailed:    0,
		types.ReminderStatusCancelled: 0,
	}
	for _, r := range reminders {
		counts[r.Status]++
	}

	for status, count := range counts {
		RemindersTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
