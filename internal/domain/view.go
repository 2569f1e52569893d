package domain

import "time"

// VolumeHighlight is the bar drawn behind a row's volume. Size is a
// percentage of the row width.
type VolumeHighlight struct {
	Size  float64 `json:"size"`
	Color string  `json:"color,omitempty"`
}

// RenderedRow is a BodyRow ready for display.
type RenderedRow struct {
	BodyRow
	Highlight *VolumeHighlight `json:"volumeHighlight,omitempty"`
}

// LadderView is everything a client needs to draw one widget instance.
type LadderView struct {
	GUID                string        `json:"guid"`
	Key                 InstrumentKey `json:"instrumentKey"`
	Rows                []RenderedRow `json:"rows"`
	MaxVolume           float64       `json:"maxVolume"`
	Raw                 bool          `json:"raw"`
	Loading             bool          `json:"loading"`
	ActiveWorkingVolume *float64      `json:"activeWorkingVolume"`
	WorkingVolumes      []float64     `json:"workingVolumes"`
	Active              bool          `json:"active"`
	Position            *Position     `json:"position,omitempty"`
	CenterIndex         *int          `json:"centerIndex,omitempty"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}
