package models

// Requests and responses for the boundary HTTP API. Defined in domain for consistency and reuse.

type HistoryRequest struct {
	Symbol       string `query:"symbol" json:"symbol" validate:"required"`
	Timeframe    string `query:"timeframe" json:"timeframe" default:"1m" validate:"oneof=1m 5m 15m 1h 1d"`
	Start        string `query:"start" json:"start" validate:"required"`
	End          string `query:"end" json:"end" validate:"required"`
	AllOrNothing bool   `query:"all_or_nothing" json:"all_or_nothing"`
}

type HistoryResponse struct {
	Success  bool           `json:"success"`
	Rows     int            `json:"rows"`
	Data     []Bar          `json:"data,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Error    *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type LivenessResponse struct {
	Healthy bool   `json:"healthy"`
	State   string `json:"state"`
}

type IdentityResponse struct {
	Service string `json:"service"`
}

type StatusResponse struct {
	Connection ConnectionInfo `json:"connection"`
}

type ConnectionInfo struct {
	State     string `json:"state"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	SessionID string `json:"session_id,omitempty"`
	Halted    bool   `json:"halted,omitempty"`
}
