package timing

import (
	"fmt"
	"time"
)

// Category classifies a race control message.
type Category string

const (
	CategoryFlag      Category = "Flag"
	CategorySafetyCar Category = "SafetyCar"
	CategoryDrs       Category = "Drs"
	CategoryIncident  Category = "Incident"
	CategoryTrack     Category = "Track"
	CategoryWeather   Category = "Weather"
	CategoryTechnical Category = "Technical"
	CategoryTiming    Category = "Timing"
	CategoryStewards  Category = "Stewards"
	CategoryCarEvent  Category = "CarEvent"
	CategoryOther     Category = "Other"
)

// Flag is the flag colour attached to flag messages. Empty when the
// message carries no flag.
type Flag string

const (
	FlagGreen          Flag = "GREEN"
	FlagYellow         Flag = "YELLOW"
	FlagDoubleYellow   Flag = "DOUBLE YELLOW"
	FlagRed            Flag = "RED"
	FlagBlue           Flag = "BLUE"
	FlagWhite          Flag = "WHITE"
	FlagBlack          Flag = "BLACK"
	FlagBlackAndOrange Flag = "BLACK AND ORANGE"
	FlagBlackAndWhite  Flag = "BLACK AND WHITE"
	FlagChequered      Flag = "CHEQUERED"
	FlagClear          Flag = "CLEAR"
)

// Scope says what part of the session a message applies to.
type Scope string

const (
	ScopeTrack  Scope = "Track"
	ScopeSector Scope = "Sector"
	ScopeDriver Scope = "Driver"
)

// EventID is a stable identifier for one race control event within a
// session. Two polls that observe the same event produce the same ID.
type EventID string

// Event is one observed race control record.
type Event struct {
	UTC          time.Time
	Category     Category
	Flag         Flag
	Scope        Scope
	Sector       int // 0 when not sector-scoped
	DriverNumber int // 0 when not driver-scoped
	LapNumber    int // 0 when unknown
	Message      string
}

// ID derives the event's stable identity from fields the feed never
// rewrites: category, UTC timestamp and message text. Driver and lap are
// folded in when present so two drivers penalised in the same second
// stay distinct.
func (e Event) ID() EventID {
	return EventID(fmt.Sprintf("%s|%s|%d|%d|%s",
		e.Category, e.UTC.UTC().Format(time.RFC3339Nano), e.DriverNumber, e.LapNumber, e.Message))
}

// Snapshot is one poll's view of the race control feed.
// Events are ordered chronologically (oldest first).
type Snapshot struct {
	SessionID string
	TakenAt   time.Time
	Events    []Event
}

// Empty reports whether the snapshot carries no events.
func (s Snapshot) Empty() bool { return len(s.Events) == 0 }
