package ckd

import "testing"

func TestBuildParseTrackRoundTrip(t *testing.T) {
	recs := []Record{
		{Cyl: 0, Head: 0, RecNum: 0, Key: nil, Data: []byte("count-area-r0")},
		{Cyl: 0, Head: 0, RecNum: 1, Key: []byte("KEY1"), Data: []byte("hello, track")},
		{Cyl: 0, Head: 0, RecNum: 2, Key: []byte("KEY2"), Data: []byte("second record")},
	}
	buf := BuildTrack(recs, 4096)
	if len(buf) != 4096 {
		t.Fatalf("BuildTrack length = %d, want 4096", len(buf))
	}

	got := ParseTrack(buf)
	if len(got) != len(recs) {
		t.Fatalf("ParseTrack returned %d records, want %d", len(got), len(recs))
	}
	for i, r := range got {
		if r.RecNum != recs[i].RecNum || string(r.Key) != string(recs[i].Key) || string(r.Data) != string(recs[i].Data) {
			t.Fatalf("record %d = %+v, want %+v", i, r, recs[i])
		}
	}
}

func TestParseTrackStopsAtEndOfTrackMarker(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xff
	}
	recs := ParseTrack(buf)
	if len(recs) != 0 {
		t.Fatalf("ParseTrack on all-0xff buffer = %d records, want 0", len(recs))
	}
}
