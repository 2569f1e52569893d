package domain

import "slices"

// VolumeHighlightMode selects how volume bars are sized on the ladder.
type VolumeHighlightMode string

const (
	VolumeHighlightOff           VolumeHighlightMode = "off"
	VolumeHighlightBiggestVolume VolumeHighlightMode = "biggestVolume"
	VolumeHighlightFixed         VolumeHighlightMode = "volumeBoundsWithFixedValue"
)

// VolumeHighlightOption is a volume threshold with the color used for rows
// whose volume reaches it.
type VolumeHighlightOption struct {
	Boundary float64 `json:"boundary" validate:"gte=0"`
	Color    string  `json:"color" validate:"required"`
}

// WidgetSettings is the per-instance ladder configuration.
type WidgetSettings struct {
	GUID                         string                  `json:"guid"`
	Symbol                       string                  `json:"symbol" validate:"required"`
	Exchange                     string                  `json:"exchange" validate:"required"`
	InstrumentGroup              string                  `json:"instrumentGroup,omitempty"`
	Portfolio                    string                  `json:"portfolio"`
	Depth                        int                     `json:"depth" validate:"gte=0,lte=50"`
	ShowZeroVolumeItems          bool                    `json:"showZeroVolumeItems"`
	ShowSpreadItems              bool                    `json:"showSpreadItems"`
	VolumeHighlightMode          VolumeHighlightMode     `json:"volumeHighlightMode" validate:"omitempty,oneof=off biggestVolume volumeBoundsWithFixedValue"`
	VolumeHighlightFullness      float64                 `json:"volumeHighlightFullness" validate:"gte=0"`
	VolumeHighlightOptions       []VolumeHighlightOption `json:"volumeHighlightOptions" validate:"dive"`
	EnableMouseClickSilentOrders bool                    `json:"enableMouseClickSilentOrders"`
	DisableHotkeys               bool                    `json:"disableHotkeys"`
	WorkingVolumes               []float64               `json:"workingVolumes" validate:"dive,gt=0"`
	VisibleRows                  int                     `json:"visibleRows" validate:"gte=0"`
}

// InstrumentKey returns the key of the instrument the widget is bound to.
func (s WidgetSettings) InstrumentKey() InstrumentKey {
	return InstrumentKey{Symbol: s.Symbol, Exchange: s.Exchange, InstrumentGroup: s.InstrumentGroup}
}

// Equal reports whether two settings values are identical. Unchanged
// settings updates are dropped by the widget instance.
func (s WidgetSettings) Equal(other WidgetSettings) bool {
	return s.GUID == other.GUID &&
		s.InstrumentKey().Equal(other.InstrumentKey()) &&
		s.Portfolio == other.Portfolio &&
		s.Depth == other.Depth &&
		s.ShowZeroVolumeItems == other.ShowZeroVolumeItems &&
		s.ShowSpreadItems == other.ShowSpreadItems &&
		s.VolumeHighlightMode == other.VolumeHighlightMode &&
		s.VolumeHighlightFullness == other.VolumeHighlightFullness &&
		slices.Equal(s.VolumeHighlightOptions, other.VolumeHighlightOptions) &&
		s.EnableMouseClickSilentOrders == other.EnableMouseClickSilentOrders &&
		s.DisableHotkeys == other.DisableHotkeys &&
		slices.Equal(s.WorkingVolumes, other.WorkingVolumes) &&
		s.VisibleRows == other.VisibleRows
}

// MouseAction is the order action bound to a mouse gesture.
type MouseAction string

const (
	MouseActionLimitBuy      MouseAction = "limitBuyOrder"
	MouseActionLimitSell     MouseAction = "limitSellOrder"
	MouseActionMarketBuy     MouseAction = "marketBuyOrder"
	MouseActionMarketSell    MouseAction = "marketSellOrder"
	MouseActionStopLimitBuy  MouseAction = "stopLimitBuyOrder"
	MouseActionStopLimitSell MouseAction = "stopLimitSellOrder"
	MouseActionStopLimit     MouseAction = "stopLimitOrder" // side follows the clicked row
	MouseActionStopLoss      MouseAction = "stopLossOrder"
)

// MouseButton is the clicked button.
type MouseButton string

const (
	MouseButtonLeft  MouseButton = "left"
	MouseButtonRight MouseButton = "right"
)

// Modifier is the keyboard modifier held during a click. The empty value
// means no modifier.
type Modifier string

const (
	ModifierNone  Modifier = ""
	ModifierShift Modifier = "shift"
	ModifierCtrl  Modifier = "ctrl"
)

// RowTypeAny matches every row type in a mouse mapping.
const RowTypeAny RowType = "any"

// MouseActionsMapItem binds (button, row type, modifier) to an action.
type MouseActionsMapItem struct {
	Button   MouseButton `json:"button" validate:"oneof=left right"`
	RowType  RowType     `json:"orderBookRowType" validate:"oneof=ask bid spread any"`
	Modifier Modifier    `json:"modifier,omitempty" validate:"omitempty,oneof=shift ctrl"`
	Action   MouseAction `json:"action" validate:"required"`

	// AnyModifier matches the click whatever modifier is held.
	AnyModifier bool `json:"anyModifier,omitempty"`
}

// MouseActionsScheme names a mouse mapping preset.
type MouseActionsScheme string

const (
	MouseScheme1 MouseActionsScheme = "scheme1"
	MouseScheme2 MouseActionsScheme = "scheme2"
)

// MouseActionsMap is an ordered list of mouse bindings. The first matching
// item wins.
type MouseActionsMap struct {
	Name    MouseActionsScheme    `json:"mapName"`
	Actions []MouseActionsMapItem `json:"actions" validate:"dive"`
}

// HotKeysSettings holds the terminal-wide hotkey configuration relevant to
// the ladder. Only the number of working-volume hotkeys matters here.
type HotKeysSettings struct {
	WorkingVolumes []string `json:"workingVolumes"`
	ExtraHotKeys   bool     `json:"extraHotKeys"`
}

// TerminalSettings is the terminal-wide configuration shared by all
// widget instances.
type TerminalSettings struct {
	HotKeys      HotKeysSettings  `json:"hotKeysSettings"`
	MouseActions *MouseActionsMap `json:"scalperOrderBookMouseActions,omitempty"`
}
