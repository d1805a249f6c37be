package main

import "testing"

func TestFormatFrame(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		metrics bool
		want    string
		wantOK  bool
	}{
		{
			name:   "phase",
			in:     `{"type":"phase_changed","data":{"game":"motion","phase":"playing"}}`,
			want:   "[PHASE] motion -> playing",
			wantOK: true,
		},
		{
			name:   "timer",
			in:     `{"type":"timer_tick","data":{"game":"audio","seconds_left":7}}`,
			want:   "[TIMER] audio 7s",
			wantOK: true,
		},
		{
			name:    "pulse",
			in:      `{"type":"metric_update","data":{"game":"motion","metric":3,"level":42.5,"pulse":true,"speed_tier":3}}`,
			metrics: true,
			want:    "[METRIC] motion metric=3 level=42.50 pulse tier=3",
			wantOK:  true,
		},
		{
			name:   "metrics hidden",
			in:     `{"type":"metric_update","data":{"game":"audio","metric":200,"level":0.5}}`,
			wantOK: false,
		},
		{
			name:   "result",
			in:     `{"type":"result","data":{"game":"motion","metric":42,"score":42,"label":"숙련된 기수"}}`,
			want:   `[RESULT] motion metric=42 score=42 label="숙련된 기수"`,
			wantOK: true,
		},
		{
			name:   "init",
			in:     `{"type":"state_init","data":{"games":[{"game":"motion","phase":"ready","time_remaining":10}]}}`,
			want:   "[INIT] motion=ready(10s)",
			wantOK: true,
		},
		{
			name:   "not json",
			in:     `hello`,
			want:   "[TEXT] hello",
			wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := formatFrame([]byte(tt.in), tt.metrics)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("formatFrame = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
