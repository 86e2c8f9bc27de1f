package kiwoom

import (
	"encoding/json"
	"strings"
)

// TR codes served by the bridge
const (
	TRFundamental     = "opt10001" // 주식기본정보
	TRInvestorFlow    = "opt10059" // 종목별투자자기관별
	TRDailyBars       = "opt10081" // 주식일봉차트조회
	TRSectorFlow      = "opt10051" // 업종별투자자순매수
	TRSectorValuation = "opt20001" // 업종현재가
)

// Message types on the bridge socket
const (
	msgLogin       = "login"
	msgLoginResult = "login_result"
	msgTR          = "tr"
	msgTRResult    = "tr_result"
	msgCondList    = "condition_list"
	msgCondCodes   = "condition_codes"
	msgMasterInfo  = "master_info"
)

// wireRequest is one outbound frame to the bridge.
type wireRequest struct {
	Type   string            `json:"type"`
	RqName string            `json:"rq_name,omitempty"`
	TRCode string            `json:"tr_code,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	Next   bool              `json:"next,omitempty"`

	// condition search
	CondIndex int    `json:"cond_index,omitempty"`
	CondName  string `json:"cond_name,omitempty"`

	// master info
	Code string `json:"code,omitempty"`
}

// wireResponse is one inbound frame from the bridge.
type wireResponse struct {
	Type    string            `json:"type"`
	RqName  string            `json:"rq_name,omitempty"`
	TRCode  string            `json:"tr_code,omitempty"`
	Rows    []json.RawMessage `json:"rows,omitempty"`
	HasNext bool              `json:"has_next,omitempty"`
	Error   string            `json:"error,omitempty"`
	OK      bool              `json:"ok,omitempty"`
}

// trRow is one record of a TR result. Kiwoom delivers every field as a
// string, sign-prefixed and sometimes comma-grouped.
type trRow map[string]string

// Condition is one saved condition-search entry on the terminal.
type Condition struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// cleanNumber strips the sign prefix, comma grouping and padding Kiwoom
// puts on numeric fields. The sign is preserved.
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "+")
	if strings.HasPrefix(s, "--") {
		s = s[1:]
	}
	return s
}
