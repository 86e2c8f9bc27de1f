package commands

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeCodesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codes.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadCodes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{
			name:    "plain list with comments",
			content: "# 관심종목\n005930\n000660\n",
			want:    []string{"005930", "000660"},
		},
		{
			name:    "broker csv export",
			content: "종목코드,종목명,현재가\n\"A005930\",\"삼성전자\",\"71,200\"\nA000660,SK하이닉스,123456789\n",
			want:    []string{"005930", "000660"},
		},
		{
			name:    "duplicates dropped in order",
			content: "035720\n005930\n035720\n",
			want:    []string{"035720", "005930"},
		},
		{
			name:    "no codes",
			content: "# 비어 있음\n종목코드,종목명\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readCodes(writeCodesFile(t, tt.content))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("readCodes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"005930", "005930", true},
		{"A005930", "005930", true},
		{" 000660 ", "000660", true},
		{"KR7005930003", "", false}, // ISIN digit run is longer than six
		{"71,200", "", false},
		{"삼성전자", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := extractCode(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("extractCode(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
