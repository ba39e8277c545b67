package protocol

import "fmt"

// Signal is a negative packet header. The values mirror the director's
// socket layer and must not be renumbered.
type Signal int32

const (
	SignalEOD          Signal = -1  // end of data stream, new data may follow
	SignalEODPoll      Signal = -2  // end of data and poll all in one
	SignalStatus       Signal = -3  // send full status
	SignalTerminate    Signal = -4  // conversation terminated, doing close()
	SignalPoll         Signal = -5  // poll request, I'm hanging on a read
	SignalHeartbeat    Signal = -6  // heartbeat, response requested
	SignalHBResponse   Signal = -7  // only response permitted to a heartbeat
	SignalPrompt       Signal = -8  // obsolete prompt for subcommand
	SignalBTime        Signal = -9  // send UTC btime
	SignalBreak        Signal = -10 // stop current command, ctl-c
	SignalStartSelect  Signal = -11 // start of a selection list
	SignalEndSelect    Signal = -12 // end of a select list
	SignalInvalidCmd   Signal = -13 // invalid command sent
	SignalCmdFailed    Signal = -14 // command failed
	SignalCmdOK        Signal = -15 // command succeeded
	SignalCmdBegin     Signal = -16 // start command execution
	SignalMsgsPending  Signal = -17 // messages pending
	SignalMainPrompt   Signal = -18 // server ready and waiting
	SignalSelectInput  Signal = -19 // return selection input
	SignalWarningMsg   Signal = -20 // warning message follows
	SignalErrorMsg     Signal = -21 // error message follows
	SignalInfoMsg      Signal = -22 // info message follows
	SignalRunCmd       Signal = -23 // run command follows
	SignalYesNo        Signal = -24 // request yes no response
	SignalStartRTree   Signal = -25 // start restore tree mode
	SignalEndRTree     Signal = -26 // end restore tree mode
	SignalSubPrompt    Signal = -27 // indicate we are at a subprompt
	SignalTextInput    Signal = -28 // get text input from user
	minSignal                 = SignalTextInput
)

var signalNames = map[Signal]string{
	SignalEOD:         "BNET_EOD",
	SignalEODPoll:     "BNET_EOD_POLL",
	SignalStatus:      "BNET_STATUS",
	SignalTerminate:   "BNET_TERMINATE",
	SignalPoll:        "BNET_POLL",
	SignalHeartbeat:   "BNET_HEARTBEAT",
	SignalHBResponse:  "BNET_HB_RESPONSE",
	SignalPrompt:      "BNET_PROMPT",
	SignalBTime:       "BNET_BTIME",
	SignalBreak:       "BNET_BREAK",
	SignalStartSelect: "BNET_START_SELECT",
	SignalEndSelect:   "BNET_END_SELECT",
	SignalInvalidCmd:  "BNET_INVALID_CMD",
	SignalCmdFailed:   "BNET_CMD_FAILED",
	SignalCmdOK:       "BNET_CMD_OK",
	SignalCmdBegin:    "BNET_CMD_BEGIN",
	SignalMsgsPending: "BNET_MSGS_PENDING",
	SignalMainPrompt:  "BNET_MAIN_PROMPT",
	SignalSelectInput: "BNET_SELECT_INPUT",
	SignalWarningMsg:  "BNET_WARNING_MSG",
	SignalErrorMsg:    "BNET_ERROR_MSG",
	SignalInfoMsg:     "BNET_INFO_MSG",
	SignalRunCmd:      "BNET_RUN_CMD",
	SignalYesNo:       "BNET_YESNO",
	SignalStartRTree:  "BNET_START_RTREE",
	SignalEndRTree:    "BNET_END_RTREE",
	SignalSubPrompt:   "BNET_SUB_PROMPT",
	SignalTextInput:   "BNET_TEXT_INPUT",
}

// Known reports whether s is one of the director's defined signals.
func (s Signal) Known() bool {
	return s < 0 && s >= minSignal
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("BNET_UNKNOWN(%d)", int32(s))
}

// IsPrompt reports whether the director is waiting for input from us.
func (s Signal) IsPrompt() bool {
	switch s {
	case SignalSubPrompt, SignalTextInput, SignalSelectInput, SignalYesNo, SignalPrompt:
		return true
	}
	return false
}

// IsError reports whether s marks the current command as failed.
func (s Signal) IsError() bool {
	switch s {
	case SignalErrorMsg, SignalInvalidCmd, SignalCmdFailed:
		return true
	}
	return false
}
