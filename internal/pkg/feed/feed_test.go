package feed

import "testing"

func intPtr(v int) *int { return &v }

func TestIsFinished(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"Encerrado", true},
		{"FIM", true},
		{"Finished", true},
		{"Full time", true},
		{"FT", true},
		{"2º tempo", false},
		{"Live", false},
		{"", false},
		{"Shift", false},
	}
	for _, tt := range tests {
		if got := IsFinished(tt.status); got != tt.want {
			t.Errorf("IsFinished(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestIsFirstHalf(t *testing.T) {
	tests := []struct {
		name string
		h    Header
		want bool
	}{
		{"minute 30", Header{Minute: intPtr(30)}, true},
		{"minute 45", Header{Minute: intPtr(45)}, true},
		{"minute 46", Header{Minute: intPtr(46), Status: "2nd half"}, false},
		{"interval without minute", Header{Status: "Intervalo"}, true},
		{"half time", Header{Status: "Half Time"}, true},
		{"unknown", Header{Status: "Live"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFirstHalf(tt.h); got != tt.want {
				t.Errorf("IsFirstHalf() = %v, want %v", got, tt.want)
			}
		})
	}
}
