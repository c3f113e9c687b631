package object

import "fmt"

// ObjectType enumerates the object types this engine knows about.
type ObjectType uint16

const (
	TypeAnalogValue ObjectType = iota
	TypeBinaryValue
	TypeMultiStateValue
	TypeCalendar
	TypeDevice
	TypeSchedule
)

func (t ObjectType) String() string {
	switch t {
	case TypeAnalogValue:
		return "analog-value"
	case TypeBinaryValue:
		return "binary-value"
	case TypeMultiStateValue:
		return "multi-state-value"
	case TypeCalendar:
		return "calendar"
	case TypeDevice:
		return "device"
	case TypeSchedule:
		return "schedule"
	default:
		return fmt.Sprintf("object-type(%d)", uint16(t))
	}
}

// ObjectID identifies an object instance within one device.
type ObjectID struct {
	Type     ObjectType
	Instance uint32
}

func (id ObjectID) String() string {
	return fmt.Sprintf("%s:%d", id.Type, id.Instance)
}

// PropertyID identifies a property on an object.
type PropertyID uint16

const (
	PropObjectName PropertyID = iota
	PropPresentValue
	PropEffectivePeriod
	PropWeeklySchedule
	PropExceptionSchedule
	PropScheduleDefault
	PropTargetReferences
	PropPriorityForWriting
	PropOutOfService
	PropStatusFlags
	PropReliability
	PropDateList
)

func (p PropertyID) String() string {
	switch p {
	case PropObjectName:
		return "object-name"
	case PropPresentValue:
		return "present-value"
	case PropEffectivePeriod:
		return "effective-period"
	case PropWeeklySchedule:
		return "weekly-schedule"
	case PropExceptionSchedule:
		return "exception-schedule"
	case PropScheduleDefault:
		return "schedule-default"
	case PropTargetReferences:
		return "target-references"
	case PropPriorityForWriting:
		return "priority-for-writing"
	case PropOutOfService:
		return "out-of-service"
	case PropStatusFlags:
		return "status-flags"
	case PropReliability:
		return "reliability"
	case PropDateList:
		return "date-list"
	default:
		return fmt.Sprintf("property(%d)", uint16(p))
	}
}

// Reliability values used by this engine.
const (
	ReliabilityNoFaultDetected uint32 = 0
)

// StatusFlags mirrors the four standard status bits.
type StatusFlags struct {
	InAlarm      bool
	Fault        bool
	Overridden   bool
	OutOfService bool
}
