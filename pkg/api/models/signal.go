package models

// SignalWriteRequest sets an input signal.
type SignalWriteRequest struct {
	// Value is the new signal value. It is a pointer so that false is not
	// mistaken for a missing field.
	Value *bool `json:"value" validate:"required" example:"true"`
}

// SignalWriteResponse echoes an accepted input write.
type SignalWriteResponse struct {
	Line   string `json:"line" example:"line-1"`
	Signal string `json:"signal" example:"emergencyStop"`
	Value  bool   `json:"value" example:"true"`
}
