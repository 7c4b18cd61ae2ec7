package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf_OpenForm(t *testing.T) {
	now := time.Now()
	form := Form{State: FormOpen, OpenDate: now.Add(-time.Hour), CloseDate: now.Add(time.Hour)}

	st := StatusOf(form, nil, now)
	assert.False(t, st.Closed)
	assert.False(t, st.Locked)
	assert.False(t, st.Submitted)
	assert.InDelta(t, time.Hour, st.TimeRemaining, float64(time.Second))
}

func TestStatusOf_PastCloseDateLocks(t *testing.T) {
	now := time.Now()
	form := Form{State: FormOpen, CloseDate: now.Add(-time.Minute)}

	st := StatusOf(form, nil, now)
	assert.True(t, st.Closed)
	assert.True(t, st.Locked)
	assert.Zero(t, st.TimeRemaining)
}

func TestStatusOf_ClosedStateLocksRegardlessOfDates(t *testing.T) {
	now := time.Now()
	form := Form{State: FormClosed, CloseDate: now.Add(time.Hour)}

	st := StatusOf(form, nil, now)
	assert.True(t, st.Closed)
	assert.True(t, st.Locked)
}

func TestStatusOf_LockedSubmission(t *testing.T) {
	now := time.Now()
	form := Form{State: FormOpen, CloseDate: now.Add(time.Hour)}

	st := StatusOf(form, &Submission{Locked: true}, now)
	assert.True(t, st.Submitted)
	assert.True(t, st.Locked)
	assert.False(t, st.Closed)
}

func TestStatusOf_UnlockedSubmissionStaysEditable(t *testing.T) {
	now := time.Now()
	form := Form{State: FormOpen, CloseDate: now.Add(time.Hour)}

	st := StatusOf(form, &Submission{}, now)
	assert.True(t, st.Submitted)
	assert.False(t, st.Locked)
}

func TestStatusOf_NoCloseDate(t *testing.T) {
	form := Form{State: FormOpen}

	st := StatusOf(form, nil, time.Now())
	assert.False(t, st.Closed)
	assert.Zero(t, st.TimeRemaining)
}
