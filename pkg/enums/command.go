package enums

import "slices"

// CommandType maps to the command_type enum in Postgres.
type CommandType string

const (
	CommandTypeLock   CommandType = "LOCK"
	CommandTypeUnlock CommandType = "UNLOCK"
)

var validCommandTypes = []CommandType{
	CommandTypeLock,
	CommandTypeUnlock,
}

func (c CommandType) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CommandType.
func (c CommandType) IsValid() bool {
	return slices.Contains(validCommandTypes, c)
}

// ParseCommandType converts raw input into a CommandType.
func ParseCommandType(value string) (CommandType, error) {
	return parse(value, validCommandTypes, "command type")
}

// CommandStatus tracks mailbox delivery. PENDING moves to SENT once, on pull.
type CommandStatus string

const (
	CommandStatusPending CommandStatus = "PENDING"
	CommandStatusSent    CommandStatus = "SENT"
)

// IsValid reports whether the value is a known CommandStatus.
func (c CommandStatus) IsValid() bool {
	return c == CommandStatusPending || c == CommandStatusSent
}
