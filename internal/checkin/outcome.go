package checkin

import (
	"time"

	"seatcheck/internal/ledger"
)

// Outcome is the verdict returned to the scanning client.
type Outcome string

const (
	Confirmed Outcome = "CONFIRMED"
	Rejected  Outcome = "REJECTED"
)

// State is a step of the check-in state machine. A request ends in
// Rejected, Confirmed or, on the seat path, Waiting; Placed and Expired are
// reached later through Leave or the expiry sweep.
type State string

const (
	StateScanned    State = "SCANNED"
	StateParsed     State = "PARSED"
	StateValidated  State = "VALIDATED"
	StateCommitting State = "COMMITTING"
	StateConfirmed  State = "CONFIRMED"
	StateRejected   State = "REJECTED"
	StateWaiting    State = "WAITING"
	StatePlaced     State = "PLACED"
	StateExpired    State = "EXPIRED"
)

// Reason qualifies an outcome.
type Reason string

const (
	MalformedPayload Reason = "MalformedPayload"
	NotOnRoster      Reason = "NotOnRoster"
	SeatTaken        Reason = "SeatTaken"
	// AlreadyCheckedIn accompanies a CONFIRMED outcome that changed nothing.
	AlreadyCheckedIn Reason = "AlreadyCheckedIn"
	ServerError      Reason = "ServerError"
	Timeout          Reason = "Timeout"
)

// Retryable reports whether the client may resend with the same payload.
func (r Reason) Retryable() bool {
	return r == ServerError || r == Timeout
}

// SeatView describes the seat after commit.
type SeatView struct {
	AcademyID string `json:"academy_id"`
	Room      string `json:"room"`
	Seat      string `json:"seat"`
	Occupant  string `json:"occupant,omitempty"`
	Outcome   string `json:"outcome"`
}

// AttendanceView describes the attendance record after commit.
type AttendanceView struct {
	ID         string        `json:"id"`
	StudentID  string        `json:"student_id"`
	SessionKey string        `json:"session_key"`
	Date       string        `json:"date"`
	Status     ledger.Status `json:"status"`
	Previous   string        `json:"previous,omitempty"`
	Outcome    string        `json:"outcome"`
	RecordedAt time.Time     `json:"recorded_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// WaitingView describes the waiting-room entry after commit.
type WaitingView struct {
	AcademyID string    `json:"academy_id"`
	EnteredAt time.Time `json:"entered_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Outcome   string    `json:"outcome"`
}

// Result is the terminal outcome of one check-in request.
type Result struct {
	Outcome        Outcome         `json:"outcome"`
	State          State           `json:"state"`
	Reason         Reason          `json:"reason,omitempty"`
	Detail         string          `json:"detail,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Replayed       bool            `json:"replayed"`
	Seat           *SeatView       `json:"seat,omitempty"`
	Attendance     *AttendanceView `json:"attendance,omitempty"`
	Waiting        *WaitingView    `json:"waiting,omitempty"`
}

func rejected(reason Reason, detail string) Result {
	return Result{Outcome: Rejected, State: StateRejected, Reason: reason, Detail: detail}
}

func attendanceView(res ledger.RecordResult) *AttendanceView {
	v := &AttendanceView{
		ID:         res.Record.ID,
		StudentID:  res.Record.Key.StudentID,
		SessionKey: res.Record.Key.SessionKey,
		Date:       res.Record.Key.Date,
		Status:     res.Record.Status,
		Outcome:    res.Outcome.String(),
		RecordedAt: res.Record.RecordedAt,
		UpdatedAt:  res.Record.UpdatedAt,
	}
	if res.Outcome != ledger.Created {
		v.Previous = res.Previous.String()
	}
	return v
}
