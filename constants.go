package kbnet

import "github.com/brennanlowe/kbnet/internal/constants"

// Re-exported tuning constants for the public API.
const (
	MaxPktBurst     = constants.MaxPktBurst
	MTU             = constants.MTU
	DefaultHeadroom = constants.DefaultHeadroom
	MaxFdNum        = constants.MaxFdNum
	MailboxSize     = constants.MailboxSize
)
