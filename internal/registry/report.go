package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// UnitStatus is the outcome of an aggregate operation for one unit
// (driver, scanner or device).
type UnitStatus struct {
	OK      bool
	Err     error
	Devices int
}

// MarshalJSON renders the error as a string.
func (u UnitStatus) MarshalJSON() ([]byte, error) {
	out := struct {
		OK      bool   `json:"ok"`
		Error   string `json:"error,omitempty"`
		Devices int    `json:"devices,omitempty"`
	}{OK: u.OK, Devices: u.Devices}
	if u.Err != nil {
		out.Error = u.Err.Error()
	}
	return json.Marshal(out)
}

// Report is the result of an aggregate operation. It always completes and
// names each unit that failed. Record is safe for concurrent use.
type Report struct {
	Op       string                `json:"op"`
	Units    map[string]UnitStatus `json:"units"`
	Started  time.Time             `json:"started"`
	Finished time.Time             `json:"finished"`

	mu sync.Mutex
}

// NewReport starts a report for op.
func NewReport(op string) *Report {
	return &Report{Op: op, Units: make(map[string]UnitStatus), Started: time.Now()}
}

// Record stores the outcome for unit.
func (r *Report) Record(unit string, devices int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Units[unit] = UnitStatus{OK: err == nil, Err: err, Devices: devices}
}

// Finish stamps the completion time.
func (r *Report) Finish() *Report {
	r.mu.Lock()
	r.Finished = time.Now()
	r.mu.Unlock()
	return r
}

// Succeeded returns the units that completed, sorted.
func (r *Report) Succeeded() []string {
	return r.filter(true)
}

// Failed returns the units that failed, sorted.
func (r *Report) Failed() []string {
	return r.filter(false)
}

// OK reports whether every unit succeeded.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}

// Err joins the unit errors in unit order, or returns nil.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := make([]error, 0, len(failed))
	for _, unit := range failed {
		errs = append(errs, fmt.Errorf("%s: %w", unit, r.Units[unit].Err))
	}
	return errors.Join(errs...)
}

func (r *Report) filter(ok bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for unit, st := range r.Units {
		if st.OK == ok {
			out = append(out, unit)
		}
	}
	sort.Strings(out)
	return out
}
