package models

import (
	"errors"
	"strings"
	"testing"
)

func TestTokenRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     TokenRequest
		wantErr error
	}{
		{"valid", TokenRequest{RoomName: "onboarding-1", ParticipantName: "alice"}, nil},
		{"valid with metadata", TokenRequest{RoomName: "r", ParticipantName: "p", Metadata: `{"plan":"free"}`}, nil},
		{"missing room", TokenRequest{ParticipantName: "alice"}, ErrEmptyRoomName},
		{"blank room", TokenRequest{RoomName: "   ", ParticipantName: "alice"}, ErrEmptyRoomName},
		{"missing participant", TokenRequest{RoomName: "r"}, ErrEmptyParticipant},
		{"room too long", TokenRequest{RoomName: strings.Repeat("r", MaxRoomNameLength+1), ParticipantName: "p"}, ErrRoomNameTooLong},
		{"participant too long", TokenRequest{RoomName: "r", ParticipantName: strings.Repeat("p", MaxParticipantNameLength+1)}, ErrParticipantTooLong},
		{"metadata too long", TokenRequest{RoomName: "r", ParticipantName: "p", Metadata: strings.Repeat("m", MaxMetadataLength+1)}, ErrMetadataTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAnswerRequestValidate(t *testing.T) {
	empty := AnswerRequest{Text: ""}
	if err := empty.Validate(); err != nil {
		t.Errorf("empty answer should be valid, got %v", err)
	}
	long := AnswerRequest{Text: strings.Repeat("a", MaxAnswerLength+1)}
	if err := long.Validate(); !errors.Is(err, ErrAnswerTooLong) {
		t.Errorf("expected ErrAnswerTooLong, got %v", err)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]string{"k": "v"})
	if ok.Status != string(APIStatusOK) || ok.Result == nil {
		t.Errorf("unexpected success response: %+v", ok)
	}

	msg := SuccessWithMessage("done", nil)
	if msg.Status != string(APIStatusOK) || msg.Message != "done" {
		t.Errorf("unexpected success-with-message response: %+v", msg)
	}

	e := Error("boom")
	if e.Status != string(APIStatusError) || e.Message != "boom" || e.Result != nil {
		t.Errorf("unexpected error response: %+v", e)
	}
}
