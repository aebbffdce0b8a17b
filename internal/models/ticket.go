package models

import (
	"fmt"
	"time"
)

type Ticket struct {
	ID             int64      `json:"id"`
	SequenceNumber int        `json:"sequence_number"`
	CategoryCode   string     `json:"category_code"`
	PatientClass   string     `json:"patient_class"`
	FirstVisit     bool       `json:"first_visit"`
	IssuedAt       time.Time  `json:"issued_at"`
	IsCalled       bool       `json:"is_called"`
	CalledBy       *string    `json:"called_by,omitempty"`
	CalledAt       *time.Time `json:"called_at,omitempty"`
	CounterLabel   *string    `json:"counter_label,omitempty"`
}

const (
	ClassNormal   = "normal"
	ClassPriority = "priority"
)

// Category codes for kiosk-issued tickets: class crossed with first visit
// versus return. Custom announcements carry free text instead.
const (
	CategoryNormalFirst    = "NP"
	CategoryNormalReturn   = "NR"
	CategoryPriorityFirst  = "PP"
	CategoryPriorityReturn = "PR"
)

func CategoryFor(patientClass string, firstVisit bool) (string, bool) {
	switch {
	case patientClass == ClassNormal && firstVisit:
		return CategoryNormalFirst, true
	case patientClass == ClassNormal:
		return CategoryNormalReturn, true
	case patientClass == ClassPriority && firstVisit:
		return CategoryPriorityFirst, true
	case patientClass == ClassPriority:
		return CategoryPriorityReturn, true
	}
	return "", false
}

// DisplayLabel renders the ticket as shown on the wall display and spoken by
// the announcer. Sequence 0 marks a custom call, the category code is the
// whole label.
func (t Ticket) DisplayLabel() string {
	if t.SequenceNumber == 0 {
		return t.CategoryCode
	}
	return fmt.Sprintf("%s%04d", t.CategoryCode, t.SequenceNumber)
}
