package domain

import "strconv"

// CommandType is the symbolic name of a terminal command.
type CommandType string

const (
	CommandCenterOrderBook                 CommandType = "centerOrderBook"
	CommandCancelLimitOrdersAll            CommandType = "cancelLimitOrdersAll"
	CommandClosePositionsByMarketAll       CommandType = "closePositionsByMarketAll"
	CommandCancelLimitOrdersCurrent        CommandType = "cancelLimitOrdersCurrent"
	CommandCancelStopOrdersCurrent         CommandType = "cancelStopOrdersCurrent"
	CommandClosePositionsByMarketCurrent   CommandType = "closePositionsByMarketCurrent"
	CommandReversePositionsByMarketCurrent CommandType = "reversePositionsByMarketCurrent"
	CommandSellBestOrder                   CommandType = "sellBestOrder"
	CommandBuyBestOrder                    CommandType = "buyBestOrder"
	CommandSellBestBid                     CommandType = "sellBestBid"
	CommandBuyBestAsk                      CommandType = "buyBestAsk"
	CommandSellMarket                      CommandType = "sellMarket"
	CommandBuyMarket                       CommandType = "buyMarket"
	CommandSelectWorkingVolume             CommandType = "selectWorkingVolume"
)

// Command is a discrete terminal command. Digit commands ("1".."9") and
// selectWorkingVolume with an index select a working volume by 1-based index.
type Command struct {
	Type  CommandType `json:"type" validate:"required"`
	Index *int        `json:"index,omitempty"`
}

// WorkingVolumeIndex returns the 1-based working volume index the command
// selects.
func (c Command) WorkingVolumeIndex() (int, bool) {
	if c.Type == CommandSelectWorkingVolume {
		if c.Index == nil {
			return 0, false
		}
		return *c.Index, true
	}
	if len(c.Type) != 1 || c.Type[0] < '0' || c.Type[0] > '9' {
		return 0, false
	}
	n, err := strconv.Atoi(string(c.Type))
	if err != nil {
		return 0, false
	}
	return n, true
}

// MouseEvent is a click on a rendered ladder row.
type MouseEvent struct {
	Button MouseButton `json:"button" validate:"oneof=left right"`
	Ctrl   bool        `json:"ctrlKey"`
	Shift  bool        `json:"shiftKey"`
	Row    BodyRow     `json:"row"`
}

// Modifier returns the effective modifier. Ctrl takes precedence over shift.
func (e MouseEvent) Modifier() Modifier {
	switch {
	case e.Ctrl:
		return ModifierCtrl
	case e.Shift:
		return ModifierShift
	default:
		return ModifierNone
	}
}
