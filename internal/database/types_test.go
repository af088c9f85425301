package database

import (
	"testing"
	"time"
)

func TestParseSharingMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SharingMode
		wantErr bool
	}{
		{"REQUIRE_CONSENT", SharingRequireConsent, false},
		{"PUBLIC", SharingPublic, false},
		{"public", "", true},
		{"", "", true},
		{"FRIENDS", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSharingMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSharingMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSharingMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConsentStatusValid(t *testing.T) {
	for _, s := range []ConsentStatus{ConsentPending, ConsentApproved, ConsentDenied} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	for _, s := range []ConsentStatus{"", "approved", "REVOKED"} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestPhotoIngested(t *testing.T) {
	p := Photo{}
	if p.Ingested() {
		t.Error("new photo should not be ingested")
	}
	now := time.Now()
	p.IngestedAt = &now
	if !p.Ingested() {
		t.Error("photo with IngestedAt should be ingested")
	}
}

func TestDetectedFaceMatched(t *testing.T) {
	f := DetectedFace{}
	if f.Matched() {
		t.Error("face without identity should be unmatched")
	}
	id := int64(7)
	f.MatchedIdentityID = &id
	if !f.Matched() {
		t.Error("face with identity should be matched")
	}
}
