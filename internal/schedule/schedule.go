package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Class is one class's break window, with times held as minutes since
// midnight in school-local time.
type Class struct {
	ID         string
	Name       string
	BreakStart int
	BreakEnd   int
}

// StartClock renders the break start as HH:MM.
func (c Class) StartClock() string { return clockString(c.BreakStart) }

// EndClock renders the break end as HH:MM.
func (c Class) EndClock() string { return clockString(c.BreakEnd) }

func clockString(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// Registry maps class ids to their break windows. Built once at startup;
// read-only afterwards. Overlapping windows across classes are allowed.
type Registry struct {
	classes map[string]Class
}

type classSpec struct {
	Name       string `json:"name"`
	BreakStart string `json:"breakStart"`
	BreakEnd   string `json:"breakEnd"`
}

// defaultClasses is the institution's timetable.
var defaultClasses = map[string]classSpec{
	"DS-V1":    {Name: "Desenvolvimento de Sistemas/V1", BreakStart: "15:00", BreakEnd: "15:15"},
	"DS-V2":    {Name: "Desenvolvimento de Sistemas/V2", BreakStart: "15:30", BreakEnd: "15:45"},
	"MA-V1":    {Name: "Mecânica Automotiva/V1", BreakStart: "16:00", BreakEnd: "16:15"},
	"TESTE-V1": {Name: "Turma de Teste", BreakStart: "00:00", BreakEnd: "23:59"},
}

// Load builds the registry from the built-in timetable, or from overrideJSON
// when non-empty (a JSON object keyed by class id). A malformed clock string
// in any entry fails the whole load: a class with an unparseable window must
// never be served.
func Load(overrideJSON string) (*Registry, error) {
	specs := defaultClasses
	if overrideJSON != "" {
		specs = make(map[string]classSpec)
		if err := json.Unmarshal([]byte(overrideJSON), &specs); err != nil {
			return nil, fmt.Errorf("schedule: parsing CLASS_SCHEDULE_JSON: %w", err)
		}
	}

	reg := &Registry{classes: make(map[string]Class, len(specs))}
	for id, spec := range specs {
		start, err := ParseClock(spec.BreakStart)
		if err != nil {
			return nil, fmt.Errorf("schedule: class %s break start: %w", id, err)
		}
		end, err := ParseClock(spec.BreakEnd)
		if err != nil {
			return nil, fmt.Errorf("schedule: class %s break end: %w", id, err)
		}
		if end < start {
			return nil, fmt.Errorf("schedule: class %s break ends before it starts", id)
		}
		reg.classes[id] = Class{ID: id, Name: spec.Name, BreakStart: start, BreakEnd: end}
	}
	return reg, nil
}

// Lookup returns the class for id.
func (r *Registry) Lookup(id string) (Class, bool) {
	c, ok := r.classes[id]
	return c, ok
}

// All returns every class, ordered by id.
func (r *Registry) All() []Class {
	out := make([]Class, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ParseClock converts an "HH:MM" string to minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed clock time %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed clock time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return h*60 + m, nil
}
