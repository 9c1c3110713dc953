/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: differential.go
Description: Divergence oracle for differential device fuzzing. Compares the base device's
State with each guest's State captured in the same tick, classifies divergences as novel
findings or repeats through the dedup cache, and keeps running statistics.
*/

package analysis

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kleascm/akaylee-droid/pkg/hierarchy"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/sirupsen/logrus"
)

// Verdict is the result of comparing one base/guest pair.
type Verdict int

const (
	// Consistent means the guest matches the base.
	Consistent Verdict = iota
	// Novel is a divergence whose base and guest States were both unseen.
	Novel
	// Repeated is a divergence involving an already seen State.
	Repeated
)

func (v Verdict) String() string {
	switch v {
	case Consistent:
		return "consistent"
	case Novel:
		return "novel"
	case Repeated:
		return "repeated"
	}
	return "unknown"
}

// Severity ranks recorded divergences.
type Severity string

const (
	// SeverityError is a genuine, first-seen divergence.
	SeverityError Severity = "error"
	// SeverityWrong is a repeat of an already observed divergence.
	SeverityWrong Severity = "wrong"
)

// Finding describes one recorded divergence. Number is the guest's error or wrong
// counter after the finding was counted.
type Finding struct {
	ID        string                `json:"id"`
	Timestamp time.Time             `json:"timestamp"`
	Strategy  string                `json:"strategy"`
	RunCount  int                   `json:"run_count"`
	Seq       float64               `json:"seq"`
	Role      interfaces.Role       `json:"role"`
	Serial    string                `json:"serial"`
	Action    interfaces.ActionKind `json:"action"`
	Severity  Severity              `json:"severity"`
	Number    int                   `json:"number"`
	BaseHash  string                `json:"base_hash"`
	GuestHash string                `json:"guest_hash"`
}

// NewFinding stamps a finding with a fresh ID.
func NewFinding(severity Severity, base, guest *hierarchy.State) *Finding {
	f := &Finding{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Severity:  severity,
	}
	if base != nil {
		f.BaseHash = base.Hash()
	}
	if guest != nil {
		f.GuestHash = guest.Hash()
	}
	return f
}

// DifferentialStats tracks oracle activity.
type DifferentialStats struct {
	Comparisons     int64     `json:"comparisons"`
	Divergences     int64     `json:"divergences"`
	Errors          int64     `json:"errors"`
	Wrongs          int64     `json:"wrongs"`
	StartTime       time.Time `json:"start_time"`
	LastFindingTime time.Time `json:"last_finding_time"`
}

// Oracle compares base and guest States. The executor calls it only after the tick
// barrier; the mutex guards stats readers on other goroutines.
type Oracle struct {
	cache  *DedupCache
	logger *logrus.Logger
	mu     sync.RWMutex
	stats  DifferentialStats
}

// NewOracle creates an oracle with an empty cache.
func NewOracle(logger *logrus.Logger) *Oracle {
	return &Oracle{
		cache:  NewDedupCache(),
		logger: logger,
		stats:  DifferentialStats{StartTime: time.Now()},
	}
}

// Cache exposes the dedup cache.
func (o *Oracle) Cache() *DedupCache { return o.cache }

// Compare classifies the pair without recording it. A nil State on either side is
// treated as a divergence because the device produced no comparable screen.
func (o *Oracle) Compare(base, guest *hierarchy.State, role interfaces.Role) Verdict {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Comparisons++

	if base != nil && base.Same(guest) {
		return Consistent
	}
	o.stats.Divergences++
	o.stats.LastFindingTime = time.Now()
	if o.cache.Novel(base, guest, role) {
		o.stats.Errors++
		o.logger.WithFields(logrus.Fields{"role": role, "verdict": Novel}).Debug("Divergence")
		return Novel
	}
	o.stats.Wrongs++
	return Repeated
}

// Observe records the tick's States once all comparisons are done.
func (o *Oracle) Observe(base *hierarchy.State, guests map[interfaces.Role]*hierarchy.State) {
	o.cache.AddBase(base)
	for role, s := range guests {
		o.cache.AddGuest(role, s)
	}
}

// GetStats returns a snapshot of the statistics.
func (o *Oracle) GetStats() DifferentialStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stats
}

// SeverityOf maps a divergent verdict to the log it belongs in.
func SeverityOf(v Verdict) Severity {
	if v == Novel {
		return SeverityError
	}
	return SeverityWrong
}
