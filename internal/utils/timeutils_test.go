package utils

import "testing"

func TestSecondsCeil(t *testing.T) {
	cases := []struct {
		ns   int64
		want uint32
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{NsPerSec - 1, 1},
		{NsPerSec, 1},
		{NsPerSec + 1, 2},
		{10*NsPerSec + 1, 11},
	}
	for _, tc := range cases {
		if got := SecondsCeil(tc.ns); got != tc.want {
			t.Fatalf("SecondsCeil(%d) = %d, want %d", tc.ns, got, tc.want)
		}
	}
}

func TestSecondsFloor(t *testing.T) {
	cases := []struct {
		ns   int64
		want int64
	}{
		{0, 0},
		{-5, 0},
		{NsPerSec - 1, 0},
		{NsPerSec, 1},
		{10*NsPerSec + 999, 10},
	}
	for _, tc := range cases {
		if got := SecondsFloor(tc.ns); got != tc.want {
			t.Fatalf("SecondsFloor(%d) = %d, want %d", tc.ns, got, tc.want)
		}
	}
}
