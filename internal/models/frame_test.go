package models

import "testing"

func TestFrameFilter_NormalizedEnd(t *testing.T) {
	tests := []struct {
		name string
		end  string
		want string
	}{
		{"empty", "", ""},
		{"date only extends to end of day", "2026-03-01", "2026-03-01T23:59:59"},
		{"full timestamp unchanged", "2026-03-01T14:30:00", "2026-03-01T14:30:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := FrameFilter{EndTime: tt.end}
			if got := f.NormalizedEnd(); got != tt.want {
				t.Errorf("NormalizedEnd() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTextSearchRequest_Validate(t *testing.T) {
	req := &TextSearchRequest{Query: "red car"}
	if err := req.Validate(20, 100); err != nil {
		t.Fatal(err)
	}
	if req.Limit != 20 {
		t.Errorf("default limit not applied: %d", req.Limit)
	}

	req = &TextSearchRequest{Query: "red car", Limit: 500}
	if err := req.Validate(20, 100); err != nil {
		t.Fatal(err)
	}
	if req.Limit != 100 {
		t.Errorf("limit not capped: %d", req.Limit)
	}

	if err := (&TextSearchRequest{}).Validate(20, 100); err == nil {
		t.Error("empty query should be rejected")
	}

	bad := 1.5
	if err := (&TextSearchRequest{Query: "q", MinScore: &bad}).Validate(20, 100); err == nil {
		t.Error("min score above 1 should be rejected")
	}
	ok := -0.5
	if err := (&TextSearchRequest{Query: "q", MinScore: &ok}).Validate(20, 100); err != nil {
		t.Errorf("min score in range rejected: %v", err)
	}
}
