package reconcile

import (
	"encoding/json"
	"fmt"
)

// OpError is one failed remote operation. It does not stop the run.
type OpError struct {
	Step  int
	Op    string
	Group string
	Err   error
}

func (e OpError) Error() string {
	return fmt.Sprintf("step %d: %s %s: %v", e.Step, e.Op, e.Group, e.Err)
}

func (e OpError) Unwrap() error {
	return e.Err
}

func (e OpError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Step  int    `json:"step"`
		Op    string `json:"op"`
		Group string `json:"group"`
		Error string `json:"error"`
	}{e.Step, e.Op, e.Group, msg})
}

// Report is the outcome of applying a plan.
type Report struct {
	Created []string  `json:"created"`
	Updated []string  `json:"updated"`
	Deleted []string  `json:"deleted"`
	Errors  []OpError `json:"errors"`
}

func newReport() *Report {
	return &Report{Created: []string{}, Updated: []string{}, Deleted: []string{}, Errors: []OpError{}}
}

// Messages returns the error strings of every failed operation.
func (r *Report) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}
	return out
}

func (r *Report) fail(step int, op, group string, err error) {
	r.Errors = append(r.Errors, OpError{Step: step, Op: op, Group: group, Err: err})
}
