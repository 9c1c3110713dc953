/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: replay.go
Description: Replays settings events recorded in earlier trace files at the ticks they
originally ran.
*/

package injector

import (
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/trace"
)

// Replay serves recorded setting events by sequence number.
type Replay struct {
	pending map[string][]interfaces.Event
	total   int
}

// NewReplay keeps the setting records of recs. The recording device becomes the target.
func NewReplay(recs []trace.Record) *Replay {
	r := &Replay{pending: make(map[string][]interfaces.Event)}
	for _, rec := range recs {
		if rec.Event.Action != interfaces.ActionSetting {
			continue
		}
		e := rec.Event
		e.Target = rec.Role
		key := interfaces.FormatSeq(e.Seq)
		r.pending[key] = append(r.pending[key], e)
		r.total++
	}
	return r
}

// LoadReplay reads setting events from one or more trace files.
func LoadReplay(paths ...string) (*Replay, error) {
	var all []trace.Record
	for _, p := range paths {
		recs, err := trace.ReadRecordsFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return NewReplay(all), nil
}

// Len is the number of events not yet served.
func (r *Replay) Len() int { return r.total }

// EventAt returns the next recorded setting event for seq, if any.
func (r *Replay) EventAt(seq float64) (*interfaces.Event, bool) {
	key := interfaces.FormatSeq(seq)
	queue := r.pending[key]
	if len(queue) == 0 {
		return nil, false
	}
	e := queue[0]
	r.pending[key] = queue[1:]
	r.total--
	return &e, true
}
