package notification

import (
	"github.com/hashicorp/go-multierror"
)

// Result is the per-device feedback of one send call: every device maps to nil
// (delivered) or the error that prevented delivery. Devices keep the order in which
// they were recorded.
type Result struct {
	devices  []string
	feedback map[string]error
}

func NewResult() *Result {
	return &Result{feedback: make(map[string]error)}
}

// Record stores the outcome for a device. Recording the same device twice keeps its
// original position and replaces the outcome.
func (r *Result) Record(device string, err error) {
	if _, seen := r.feedback[device]; !seen {
		r.devices = append(r.devices, device)
	}
	r.feedback[device] = err
}

// RecordAll stores the same outcome for every device, used when a whole batch fails.
func (r *Result) RecordAll(devices []string, err error) {
	for _, d := range devices {
		r.Record(d, err)
	}
}

func (r *Result) Len() int { return len(r.devices) }

// Devices returns every recorded device in order.
func (r *Result) Devices() []string {
	out := make([]string, len(r.devices))
	copy(out, r.devices)
	return out
}

// Has reports whether an outcome was recorded for device.
func (r *Result) Has(device string) bool {
	_, ok := r.feedback[device]
	return ok
}

// ErrorFor returns the outcome recorded for device, nil if it was delivered or never
// recorded.
func (r *Result) ErrorFor(device string) error {
	return r.feedback[device]
}

// Failed returns the sub-map of devices that carry an error.
func (r *Result) Failed() map[string]error {
	failed := make(map[string]error)
	for _, d := range r.devices {
		if err := r.feedback[d]; err != nil {
			failed[d] = err
		}
	}
	return failed
}

func (r *Result) Succeeded() []string {
	var ok []string
	for _, d := range r.devices {
		if r.feedback[d] == nil {
			ok = append(ok, d)
		}
	}
	return ok
}

// OK reports whether every recorded device was delivered.
func (r *Result) OK() bool {
	return r.FirstError() == nil
}

// FirstError returns the first recorded error in device order.
func (r *Result) FirstError() error {
	for _, d := range r.devices {
		if err := r.feedback[d]; err != nil {
			return err
		}
	}
	return nil
}

// Err aggregates every failure into one error, nil when all devices succeeded.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, d := range r.devices {
		if err := r.feedback[d]; err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// InvalidDevices lists devices whose error marks the token as dead.
func (r *Result) InvalidDevices() []string {
	return r.devicesOfClass(ClassInvalidToken)
}

func (r *Result) RateLimitedDevices() []string {
	return r.devicesOfClass(ClassRateLimited)
}

func (r *Result) devicesOfClass(c Class) []string {
	var out []string
	for _, d := range r.devices {
		if Classify(r.feedback[d]) == c {
			out = append(out, d)
		}
	}
	return out
}
