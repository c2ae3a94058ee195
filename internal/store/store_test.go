package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fhird/fhird/internal/fhir"
)

func TestParseIfMatch(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    int
		wantErr bool
	}{
		{name: "weak etag", header: `W/"3"`, want: 3},
		{name: "quoted", header: `"7"`, want: 7},
		{name: "bare", header: "2", want: 2},
		{name: "padded", header: ` W/"4" `, want: 4},
		{name: "garbage", header: "abc", wantErr: true},
		{name: "zero", header: `W/"0"`, wantErr: true},
		{name: "negative", header: "-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIfMatch(tt.header)
			if tt.wantErr {
				if !errors.Is(err, fhir.ErrBadRequest) {
					t.Fatalf("err = %v, want ErrBadRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseIfMatch: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStampMeta(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	out, err := stampMeta([]byte(`{"resourceType":"Patient","active":true}`), "p1", 3, now)
	if err != nil {
		t.Fatalf("stampMeta: %v", err)
	}
	var got struct {
		ID   string `json:"id"`
		Meta struct {
			VersionID   string `json:"versionId"`
			LastUpdated string `json:"lastUpdated"`
		} `json:"meta"`
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "p1" || got.Meta.VersionID != "3" {
		t.Errorf("id/version = %s/%s", got.ID, got.Meta.VersionID)
	}
	if got.Meta.LastUpdated != "2024-06-01T12:00:00Z" {
		t.Errorf("lastUpdated = %s", got.Meta.LastUpdated)
	}
	if !got.Active {
		t.Error("payload field lost")
	}
}

func TestStampMetaPreservesExistingMeta(t *testing.T) {
	in := []byte(`{"resourceType":"Patient","meta":{"profile":["http://example.org/p"],"versionId":"9"}}`)
	out, err := stampMeta(in, "p1", 1, time.Now().UTC())
	if err != nil {
		t.Fatalf("stampMeta: %v", err)
	}
	var got struct {
		Meta struct {
			Profile   []string `json:"profile"`
			VersionID string   `json:"versionId"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Meta.Profile) != 1 {
		t.Error("meta.profile lost")
	}
	if got.Meta.VersionID != "1" {
		t.Errorf("client versionId must be overwritten, got %q", got.Meta.VersionID)
	}
}

func TestPrepareRejections(t *testing.T) {
	s := &Store{}
	tests := []struct {
		name string
		doc  string
	}{
		{name: "malformed", doc: `{"resourceType":`},
		{name: "missing type", doc: `{"id":"x"}`},
		{name: "type mismatch", doc: `{"resourceType":"Observation"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.prepare("Patient", []byte(tt.doc)); !errors.Is(err, fhir.ErrBadRequest) {
				t.Fatalf("err = %v, want ErrBadRequest", err)
			}
		})
	}
}

func TestPrepareNormalizes(t *testing.T) {
	s := &Store{}
	out, err := s.prepare("Patient", []byte(`{"resourceType":"Patient","id":7,"gender":null}`))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["id"] != "7" {
		t.Errorf("id = %v, want stringified", got["id"])
	}
	if _, ok := got["gender"]; ok {
		t.Error("null not stripped")
	}
}

func TestPayloadID(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "client-supplied", doc: `{"resourceType":"Patient","id":"pt-1"}`, want: "pt-1"},
		{name: "absent", doc: `{"resourceType":"Patient"}`, want: ""},
		{name: "non-string", doc: `{"resourceType":"Patient","id":7}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := payloadID([]byte(tt.doc)); got != tt.want {
				t.Errorf("payloadID = %q, want %q", got, tt.want)
			}
		})
	}
}
