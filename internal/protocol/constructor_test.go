package protocol

import (
	"strings"
	"testing"
)

func TestBuildAuth(t *testing.T) {
	got, err := BuildAuth("me@example.com", "k1")
	if err != nil {
		t.Fatalf("BuildAuth() error = %v", err)
	}

	want := `{"jsonrpc":"2.0","id":3,"method":"srvWebSocketAuth","params":{"varName":"me@example.com","apiKey":"k1"}}`
	if string(got) != want {
		t.Errorf("BuildAuth() = %s, want %s", got, want)
	}
}

func TestBuildAuth_MissingCredentials(t *testing.T) {
	if _, err := BuildAuth("", "k1"); err == nil {
		t.Error("BuildAuth() should fail without username")
	}
	if _, err := BuildAuth("me", ""); err == nil {
		t.Error("BuildAuth() should fail without api key")
	}
}

func TestBuildSubscribe(t *testing.T) {
	got, err := BuildSubscribe("dev1")
	if err != nil {
		t.Fatalf("BuildSubscribe() error = %v", err)
	}

	want := `{"jsonrpc":"2.0","id":3,"method":"wskSubscribe","params":{"topic":"dev1.wskAttributeUpdateNtfy"}}`
	if string(got) != want {
		t.Errorf("BuildSubscribe() = %s, want %s", got, want)
	}
}

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name string
		body CommandBody
		want string
	}{
		{
			name: "open",
			body: OpenDoor(),
			want: `{"jsonrpc":"2.0","method":"gdoModuleCommand","params":{"msgType":16,"moduleType":5,"portId":7,"moduleMsg":{"doorCommand":1},"topic":"dev1"}}`,
		},
		{
			name: "close",
			body: CloseDoor(),
			want: `{"jsonrpc":"2.0","method":"gdoModuleCommand","params":{"msgType":16,"moduleType":5,"portId":7,"moduleMsg":{"doorCommand":0},"topic":"dev1"}}`,
		},
		{
			name: "light on",
			body: SetLight(true),
			want: `{"jsonrpc":"2.0","method":"gdoModuleCommand","params":{"msgType":16,"moduleType":5,"portId":7,"moduleMsg":{"lightState":true},"topic":"dev1"}}`,
		},
		{
			name: "light off",
			body: SetLight(false),
			want: `{"jsonrpc":"2.0","method":"gdoModuleCommand","params":{"msgType":16,"moduleType":5,"portId":7,"moduleMsg":{"lightState":false},"topic":"dev1"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildCommand(7, "dev1", tt.body)
			if err != nil {
				t.Fatalf("BuildCommand() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("BuildCommand() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuildCommand_InvalidBody(t *testing.T) {
	bad := 7
	tests := []struct {
		name string
		body CommandBody
	}{
		{"empty", CommandBody{}},
		{"both", CommandBody{DoorCommand: OpenDoor().DoorCommand, LightState: SetLight(true).LightState}},
		{"unknown door command", CommandBody{DoorCommand: &bad}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildCommand(7, "dev1", tt.body); err == nil {
				t.Error("BuildCommand() should reject invalid body")
			}
		})
	}
}

func TestCommandBodyString(t *testing.T) {
	if s := OpenDoor().String(); s != "door=open" {
		t.Errorf("OpenDoor().String() = %q", s)
	}
	if s := SetLight(false).String(); !strings.Contains(s, "light=off") {
		t.Errorf("SetLight(false).String() = %q", s)
	}
	if s := (CommandBody{}).String(); s != "empty" {
		t.Errorf("CommandBody{}.String() = %q", s)
	}
}
