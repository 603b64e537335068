package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr bool
	}{
		{"valid device topic", "device/1/1/HEARTBEAT", false},
		{"valid nested", "sources/1/1/250/0/HEARTBEAT/gcs", false},
		{"empty", "", true},
		{"plus wildcard", "device/+/1/HEARTBEAT", true},
		{"hash wildcard", "device/#", true},
		{"reserved prefix", "$SYS/broker/load", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTopic(tt.topic)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateTopic(%q) = %v, wantErr %v", tt.topic, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTopic) {
				t.Errorf("error should wrap ErrInvalidTopic, got %v", err)
			}
		})
	}
}

func TestValidateSubscribeTopic(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr bool
	}{
		{"exact topic", "command/1/1/details", false},
		{"single-level wildcards", "command/+/+/details", false},
		{"multi-level wildcard", "device/#", false},
		{"bare hash", "#", false},
		{"empty", "", true},
		{"hash not last", "device/#/HEARTBEAT", true},
		{"hash without slash", "device#", true},
		{"plus inside level", "device/sys+/1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSubscribeTopic(tt.topic)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSubscribeTopic(%q) = %v, wantErr %v", tt.topic, err, tt.wantErr)
			}
		})
	}
}

func TestMarshalPayload(t *testing.T) {
	t.Run("bytes pass through", func(t *testing.T) {
		in := []byte(`{"a":1}`)
		out, err := marshalPayload(in)
		if err != nil {
			t.Fatalf("marshalPayload failed: %v", err)
		}
		if string(out) != string(in) {
			t.Errorf("got %q, want %q", out, in)
		}
	})

	t.Run("string converted", func(t *testing.T) {
		out, err := marshalPayload("hello")
		if err != nil {
			t.Fatalf("marshalPayload failed: %v", err)
		}
		if string(out) != "hello" {
			t.Errorf("got %q, want hello", out)
		}
	})

	t.Run("struct marshaled as JSON", func(t *testing.T) {
		out, err := marshalPayload(struct {
			Sysid int `json:"sysid"`
		}{Sysid: 1})
		if err != nil {
			t.Fatalf("marshalPayload failed: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(out, &decoded); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if decoded["sysid"] != float64(1) {
			t.Errorf("sysid = %v, want 1", decoded["sysid"])
		}
	})
}

func TestStatusPayloads(t *testing.T) {
	var online, offline map[string]any

	if err := json.Unmarshal([]byte(buildOnlinePayload("mavgate-test")), &online); err != nil {
		t.Fatalf("online payload is not valid JSON: %v", err)
	}
	if online["status"] != "online" || online["client_id"] != "mavgate-test" {
		t.Errorf("unexpected online payload: %v", online)
	}

	if err := json.Unmarshal([]byte(buildOfflinePayload("mavgate-test")), &offline); err != nil {
		t.Fatalf("offline payload is not valid JSON: %v", err)
	}
	if offline["status"] != "offline" || offline["reason"] != "graceful_shutdown" {
		t.Errorf("unexpected offline payload: %v", offline)
	}
}
