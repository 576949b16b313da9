package models

import (
	"fmt"
	"strings"
)

// Status is the position of a todo in the workflow.
type Status int

const (
	NewStatus      Status = 1
	ActiveStatus   Status = 2
	NextStatus     Status = 3
	OnHoldStatus   Status = 4
	ResolvedStatus Status = 5
)

var statusNames = map[Status]string{
	NewStatus:      "NEW",
	ActiveStatus:   "ACTIVE",
	NextStatus:     "NEXT",
	OnHoldStatus:   "ON_HOLD",
	ResolvedStatus: "RESOLVED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// IsOpen reports whether the todo still needs work.
func (s Status) IsOpen() bool {
	return s < ResolvedStatus
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus accepts the status name in any case.
func ParseStatus(name string) (Status, error) {
	for status, n := range statusNames {
		if strings.EqualFold(n, name) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("invalid status %q", name)
}

// Resolution describes how a resolved todo ended.
type Resolution int

const (
	CompletedResolution  Resolution = 1
	FailedResolution     Resolution = 2
	IncompleteResolution Resolution = 3
)

var resolutionNames = map[Resolution]string{
	CompletedResolution:  "COMPLETED",
	FailedResolution:     "FAILED",
	IncompleteResolution: "INCOMPLETE",
}

func (r Resolution) String() string {
	if name, ok := resolutionNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Resolution(%d)", int(r))
}

func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Resolution) UnmarshalText(text []byte) error {
	parsed, err := ParseResolution(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseResolution accepts the resolution name in any case.
func ParseResolution(name string) (Resolution, error) {
	for resolution, n := range resolutionNames {
		if strings.EqualFold(n, name) {
			return resolution, nil
		}
	}
	return 0, fmt.Errorf("invalid resolution %q", name)
}

// Flag identifies a status change in notifications and the action log.
type Flag int

const (
	CreatedFlag    Flag = 0
	ActivatedFlag  Flag = Flag(ActiveStatus)
	NextedFlag     Flag = Flag(NextStatus)
	OnHoldFlag     Flag = Flag(OnHoldStatus)
	ResolvedFlag   Flag = Flag(ResolvedStatus)
	CompletedFlag  Flag = Flag(ResolvedStatus) + Flag(CompletedResolution)
	FailedFlag     Flag = Flag(ResolvedStatus) + Flag(FailedResolution)
	IncompleteFlag Flag = Flag(ResolvedStatus) + Flag(IncompleteResolution)
)

var flagNames = map[Flag]string{
	CreatedFlag:    "CREATED",
	ActivatedFlag:  "ACTIVATED",
	NextedFlag:     "NEXTED",
	OnHoldFlag:     "ON_HOLD",
	ResolvedFlag:   "RESOLVED",
	CompletedFlag:  "COMPLETED",
	FailedFlag:     "FAILED",
	IncompleteFlag: "INCOMPLETE",
}

func (f Flag) String() string {
	if name, ok := flagNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Flag(%d)", int(f))
}

func (f Flag) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Flag) UnmarshalText(text []byte) error {
	for flag, n := range flagNames {
		if strings.EqualFold(n, string(text)) {
			*f = flag
			return nil
		}
	}
	return fmt.Errorf("invalid flag %q", string(text))
}

// StatusFlag is the flag sent when a todo enters the given status.
func StatusFlag(s Status) Flag {
	return Flag(s)
}

// ResolutionFlag is the flag sent when a todo is resolved with r.
func ResolutionFlag(r Resolution) Flag {
	return Flag(ResolvedStatus) + Flag(r)
}

// IsResolution reports whether the flag marks a resolution.
func (f Flag) IsResolution() bool {
	return f > ResolvedFlag && f <= IncompleteFlag
}
