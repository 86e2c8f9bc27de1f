package krx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wonny/screener/internal/market"
	"github.com/wonny/screener/pkg/config"
	"github.com/wonny/screener/pkg/logger"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		short, isin, want string
	}{
		{"005930", "", "005930"},
		{"", "KR7005930003", "005930"},
		{"KR7035720002", "", "035720"},   // isin delivered in the short field
		{"A005930", "KR7005930003", "005930"},
		{"", "", ""},
		{"12345", "", ""},
	}
	for _, tt := range tests {
		if got := ExtractCode(tt.short, tt.isin); got != tt.want {
			t.Errorf("ExtractCode(%q, %q) = %q, want %q", tt.short, tt.isin, got, tt.want)
		}
	}
}

func TestAllSecurities(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("AUTH_KEY")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "stk_isu_base_info"):
			w.Write([]byte(`{"OutBlock_1":[
				{"ISU_CD":"KR7005930003","ISU_SRT_CD":"005930","ISU_ABBRV":"삼성전자"}
			]}`))
		case strings.HasSuffix(r.URL.Path, "stk_bydd_trd"):
			w.Write([]byte(`{"OutBlock_1":[
				{"ISU_CD":"005930","TDD_CLSPRC":"71,200","SECT_TP_NM":"전기·전자"}
			]}`))
		case strings.HasSuffix(r.URL.Path, "ksq_isu_base_info"):
			w.Write([]byte(`{"OutBlock_1":[
				{"ISU_CD":"KR7035720002","ISU_ABBRV":"카카오게임즈"}
			]}`))
		case strings.HasSuffix(r.URL.Path, "ksq_bydd_trd"):
			w.Write([]byte(`{"OutBlock_1":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := New(config.KRXConfig{BaseURL: srv.URL, AuthKey: "test-key"}, logger.NewNop())
	secs, err := client.AllSecurities(context.Background(), time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	if gotAuth != "test-key" {
		t.Errorf("AUTH_KEY = %q", gotAuth)
	}
	if len(secs) != 2 {
		t.Fatalf("len = %d, want 2", len(secs))
	}

	samsung := secs[0]
	if samsung.Code != "005930" || samsung.Market != market.KOSPI {
		t.Errorf("kospi row: %+v", samsung)
	}
	if samsung.CurrentPrice != 71200 {
		t.Errorf("price = %f, want grouped digits parsed", samsung.CurrentPrice)
	}
	if samsung.KRXSectorName != "전기·전자" {
		t.Errorf("sector = %q", samsung.KRXSectorName)
	}

	kakao := secs[1]
	if kakao.Code != "035720" || kakao.Market != market.KOSDAQ {
		t.Errorf("kosdaq row: %+v (code must come from the ISIN)", kakao)
	}
}
