package model

import "time"

// FormStatus is derived from a Form and the student's Submission at load
// time. It is never persisted or kept authoritative afterwards.
type FormStatus struct {
	Closed        bool
	Locked        bool
	Submitted     bool
	TimeRemaining time.Duration
}

func StatusOf(form Form, sub *Submission, now time.Time) FormStatus {
	var st FormStatus

	st.Closed = form.State != FormOpen || (!form.CloseDate.IsZero() && now.After(form.CloseDate))
	if !form.CloseDate.IsZero() && form.CloseDate.After(now) {
		st.TimeRemaining = form.CloseDate.Sub(now)
	}

	if sub != nil {
		st.Submitted = true
		st.Locked = sub.Locked
	}
	if st.Closed {
		st.Locked = true
	}

	return st
}
