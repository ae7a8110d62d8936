// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package validation

import (
	"strings"
	"testing"
)

type sampleRequest struct {
	Latitude  float64 `validate:"required,latitude"`
	Longitude float64 `validate:"required,longitude"`
	Limit     int     `validate:"omitempty,min=1,max=100"`
}

func TestValidateStructPasses(t *testing.T) {
	req := sampleRequest{Latitude: 10.7626, Longitude: 106.6602, Limit: 10}
	if err := ValidateStruct(&req); err != nil {
		t.Errorf("ValidateStruct: %v", err)
	}
}

func TestValidateStructRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		req   sampleRequest
		field string
	}{
		{"latitude over 90", sampleRequest{Latitude: 91, Longitude: 0.1}, "Latitude"},
		{"longitude over 180", sampleRequest{Latitude: 10, Longitude: 181}, "Longitude"},
		{"limit too large", sampleRequest{Latitude: 10, Longitude: 106, Limit: 500}, "Limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			found := false
			for _, f := range err.Fields() {
				if f.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("fields = %+v, want failure on %s", err.Fields(), tt.field)
			}
		})
	}
}

func TestRequestErrorMessageListsAllFields(t *testing.T) {
	req := sampleRequest{Latitude: 91, Longitude: 181}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(err.Fields()) != 2 {
		t.Fatalf("fields = %d, want 2", len(err.Fields()))
	}
	if !strings.Contains(err.Error(), ";") {
		t.Errorf("message %q does not join failures", err.Error())
	}
}
