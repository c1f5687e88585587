package pagination

import (
	"errors"
	"testing"
)

func TestNormalizePageSize(t *testing.T) {
	cases := []struct {
		name      string
		requested int
		want      int
	}{
		{"zero falls back to default", 0, DefaultPageSize},
		{"negative falls back to default", -5, DefaultPageSize},
		{"within range", 35, 35},
		{"above max clamps", 500, MaxPageSize},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizePageSize(tc.requested); got != tc.want {
				t.Errorf("NormalizePageSize(%d) = %d, want %d", tc.requested, got, tc.want)
			}
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"2024-12-30T10:00:00Z", "ord_abc"}})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if len(cursor.StartAfter) != 2 {
		t.Fatalf("StartAfter = %v", cursor.StartAfter)
	}
	if cursor.StartAfter[1] != "ord_abc" {
		t.Errorf("StartAfter[1] = %v", cursor.StartAfter[1])
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token != "" {
		t.Errorf("token = %q, want empty for empty cursor", token)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodeToken("!!not-base64!!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Errorf("err = %v, want ErrInvalidPageToken", err)
	}
	if _, err := DecodeToken("bm90LWpzb24"); !errors.Is(err, ErrInvalidPageToken) {
		t.Errorf("err = %v, want ErrInvalidPageToken for non-JSON payload", err)
	}
}

func TestDecodeTokenEmptyString(t *testing.T) {
	cursor, err := DecodeToken("  ")
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if len(cursor.StartAfter) != 0 {
		t.Errorf("StartAfter = %v, want empty", cursor.StartAfter)
	}
}
