package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"snackticket/internal/clock"
	"snackticket/internal/eligibility"
	"snackticket/internal/geo"
	"snackticket/internal/history"
	"snackticket/internal/ledger"
	"snackticket/internal/queue"
	"snackticket/internal/schedule"
	"snackticket/internal/user"
)

var (
	ErrUnknownClass    = errors.New("ticket: student's class is not in the schedule")
	ErrLocationUnknown = errors.New("ticket: location unavailable")
	ErrOutOfRange      = errors.New("ticket: too far from campus")
)

// NotEligibleError reports a redeem attempt outside an allowed access
// state. It carries the decision so the caller can explain which gate
// closed.
type NotEligibleError struct {
	Decision eligibility.Decision
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("ticket: not eligible (%s)", e.Decision.State)
}

// Status is everything a student screen needs to render the current
// moment: the decision, the class window, and today's redemption flag.
type Status struct {
	Student  user.User
	Class    schedule.Class
	Decision eligibility.Decision
	Redeemed bool
	Now      time.Time
}

// Ticket is one torn ticket, returned only after the ledger write landed.
type Ticket struct {
	Number   string
	Student  user.User
	Class    schedule.Class
	IssuedAt time.Time
}

// Service composes the clock, schedule, ledger, location gate and event
// queue into the two student-facing operations plus the admin history view.
type Service struct {
	clock        *clock.School
	registry     *schedule.Registry
	ledger       *ledger.Ledger
	gate         geo.Gate
	rules        eligibility.Rules
	privilegedID string
	queue        queue.Queue
}

// NewService wires the collaborators together. queue may be nil when no
// history pipeline is running.
func NewService(clk *clock.School, reg *schedule.Registry, led *ledger.Ledger, gate geo.Gate, rules eligibility.Rules, privilegedID string, q queue.Queue) *Service {
	return &Service{
		clock:        clk,
		registry:     reg,
		ledger:       led,
		gate:         gate,
		rules:        rules,
		privilegedID: privilegedID,
		queue:        q,
	}
}

func (s *Service) privileged(studentID string) bool {
	return s.privilegedID != "" && studentID == s.privilegedID
}

// Status evaluates the current access state for a student.
func (s *Service) Status(ctx context.Context, student user.User) (Status, error) {
	class, ok := s.registry.Lookup(student.Class)
	if !ok {
		return Status{}, ErrUnknownClass
	}

	now := s.clock.Now()
	redeemed := s.ledger.HasRedeemedToday(ctx, student.ID, s.clock.Today())
	priv := s.privileged(student.ID)
	if priv {
		log.Printf("ticket: privileged test identity %s bypassing eligibility gates", student.ID)
	}

	return Status{
		Student:  student,
		Class:    class,
		Decision: eligibility.Evaluate(now, class, redeemed, priv, s.rules),
		Redeemed: redeemed,
		Now:      now,
	}, nil
}

// Redeem tears today's ticket. Gates are checked strictly before the
// ledger write, and the write must succeed before a ticket is returned;
// a failed write means no success is reported and nothing is enqueued.
// reported is nil when the device could not produce a coordinate.
func (s *Service) Redeem(ctx context.Context, student user.User, reported *geo.Coordinate) (Ticket, error) {
	st, err := s.Status(ctx, student)
	if err != nil {
		return Ticket{}, err
	}
	if st.Decision.State != eligibility.Eligible {
		denialsTotal.WithLabelValues(string(st.Decision.State)).Inc()
		return Ticket{}, &NotEligibleError{Decision: st.Decision}
	}

	// The privileged identity skips the radius check along with the rest.
	if !s.privileged(student.ID) {
		switch res := s.gate.Check(reported); res.Status {
		case geo.StatusUnknown:
			denialsTotal.WithLabelValues("location_unknown").Inc()
			return Ticket{}, ErrLocationUnknown
		case geo.StatusOutOfRange:
			denialsTotal.WithLabelValues("location_out_of_range").Inc()
			return Ticket{}, fmt.Errorf("%w (%.0f m away)", ErrOutOfRange, res.DistanceKm*1000)
		}
	}

	// A cancelled confirmation must leave no trace.
	if err := ctx.Err(); err != nil {
		return Ticket{}, err
	}

	today := s.clock.Today()
	if err := s.ledger.RecordRedemption(ctx, student.ID, today); err != nil {
		return Ticket{}, fmt.Errorf("ticket: recording redemption: %w", err)
	}

	now := s.clock.Now()
	t := Ticket{
		Number:   ticketNumber(now),
		Student:  student,
		Class:    st.Class,
		IssuedAt: now,
	}
	redemptionsTotal.Inc()

	if s.queue != nil {
		body, _ := json.Marshal(history.Event{
			StudentID:    student.ID,
			ClassID:      st.Class.ID,
			TicketNumber: t.Number,
			RedeemedAt:   now.UTC(),
		})
		if err := s.queue.Publish(ctx, queue.Message{Type: "redemption", Body: body}); err != nil {
			log.Printf("ticket: queue publish failed: %v", err)
		}
	}
	return t, nil
}

// ClassmateStatus is one row of the per-class admin view.
type ClassmateStatus struct {
	StudentID   string `json:"student_id"`
	Name        string `json:"name"`
	TicketTaken bool   `json:"ticket_taken"`
}

// ClassToday reports, per student of the class, whether today's ticket was
// taken.
func (s *Service) ClassToday(ctx context.Context, dir *user.Directory, classID string) ([]ClassmateStatus, error) {
	students, err := dir.ListByClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	today := s.clock.Today()
	out := make([]ClassmateStatus, 0, len(students))
	for _, st := range students {
		out = append(out, ClassmateStatus{
			StudentID:   st.ID,
			Name:        st.Name,
			TicketTaken: s.ledger.HasRedeemedToday(ctx, st.ID, today),
		})
	}
	return out, nil
}

// ticketNumber builds TK<yyyymmdd><nnn>. The suffix is decorative; the
// ledger, not the number, is what makes a ticket single-use.
func ticketNumber(now time.Time) string {
	return fmt.Sprintf("TK%s%03d", now.Format("20060102"), uuid.New().ID()%1000)
}
