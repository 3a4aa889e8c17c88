package garage

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/muurk/ryobigdo/internal/cloudapi"
	"github.com/muurk/ryobigdo/internal/session"
	"github.com/muurk/ryobigdo/internal/simulator"
)

// fakeAPI is a canned Discoverer.
type fakeAPI struct {
	devices   []string
	loginErr  error
	detailErr error
	details   int
}

func (f *fakeAPI) Login(context.Context) (*cloudapi.Session, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &cloudapi.Session{UserID: "u1", APIKey: "k1"}, nil
}

func (f *fakeAPI) ListDevices(context.Context) ([]cloudapi.DeviceSummary, error) {
	out := make([]cloudapi.DeviceSummary, 0, len(f.devices))
	for _, id := range f.devices {
		out = append(out, cloudapi.DeviceSummary{DeviceID: id, Name: "Door " + id})
	}
	return out, nil
}

func (f *fakeAPI) GetDeviceDetail(_ context.Context, id string) (*cloudapi.DeviceDetail, error) {
	f.details++
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return &cloudapi.DeviceDetail{ModuleID: 9, PortID: 7}, nil
}

func (f *fakeAPI) Username() string { return "u@example.com" }

func TestConnect_OneControllerPerDevice(t *testing.T) {
	api := &fakeAPI{devices: []string{"a", "b", "c"}}

	acct, err := Connect(context.Background(), api, Options{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ctrls := acct.Controllers()
	if len(ctrls) != 3 {
		t.Fatalf("len(Controllers()) = %d, want 3", len(ctrls))
	}
	for i, id := range api.devices {
		d := ctrls[i].Descriptor()
		if d.DeviceID != id || d.APIKey != "k1" || d.Username != "u@example.com" || d.PortID != 7 {
			t.Errorf("controller %d descriptor = %+v", i, d)
		}
		if ctrls[i].State() != session.StateClosed {
			t.Errorf("controller %d state = %v, want closed before Run", i, ctrls[i].State())
		}
	}
}

func TestConnect_FilterAndNicknames(t *testing.T) {
	api := &fakeAPI{devices: []string{"a", "b"}}

	acct, err := Connect(context.Background(), api, Options{
		DeviceIDs: []string{"b"},
		Nicknames: map[string]string{"b": "Workshop"},
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if n := len(acct.Controllers()); n != 1 {
		t.Fatalf("len(Controllers()) = %d, want 1", n)
	}
	c, ok := acct.Controller("Workshop")
	if !ok {
		t.Fatal("Controller(\"Workshop\") not found")
	}
	if c.Descriptor().DeviceID != "b" {
		t.Errorf("DeviceID = %s, want b", c.Descriptor().DeviceID)
	}
	if _, err := acct.Default(""); err != nil {
		t.Errorf("Default(\"\") error = %v with a single device", err)
	}
}

func TestConnect_FilterMatchesNothing(t *testing.T) {
	api := &fakeAPI{devices: []string{"a"}}
	_, err := Connect(context.Background(), api, Options{DeviceIDs: []string{"zzz"}})
	if !errors.Is(err, ErrNoMatchingDevice) {
		t.Errorf("Connect() error = %v, want ErrNoMatchingDevice", err)
	}
}

func TestConnect_Ignore(t *testing.T) {
	api := &fakeAPI{devices: []string{"a", "b"}}

	acct, err := Connect(context.Background(), api, Options{Ignore: []string{"a"}})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, ok := acct.Controller("a"); ok {
		t.Error("ignored device a has a controller")
	}
	if _, ok := acct.Controller("b"); !ok {
		t.Error("device b missing")
	}

	_, err = Connect(context.Background(), api, Options{DeviceIDs: []string{"a"}, Ignore: []string{"a"}})
	if !errors.Is(err, ErrNoMatchingDevice) {
		t.Errorf("Connect() error = %v, want ErrNoMatchingDevice", err)
	}
}

func TestConnect_DiscoveryFailureAborts(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeAPI
		want error
	}{
		{"no devices", &fakeAPI{}, cloudapi.ErrNoDevices},
		{"login", &fakeAPI{devices: []string{"a"}, loginErr: cloudapi.NewAuthError("invalid credentials")}, nil},
		{"detail", &fakeAPI{devices: []string{"a", "b"}, detailErr: errors.New("boom")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct, err := Connect(context.Background(), tt.api, Options{})
			if err == nil {
				t.Fatal("Connect() error = nil")
			}
			if acct != nil {
				t.Error("Connect() returned a partial account")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Connect() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDefault_MultipleDevices(t *testing.T) {
	acct, err := Connect(context.Background(), &fakeAPI{devices: []string{"a", "b"}}, Options{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, err := acct.Default(""); err == nil {
		t.Error("Default(\"\") error = nil with two devices")
	}
	if c, err := acct.Default("b"); err != nil || c.Descriptor().DeviceID != "b" {
		t.Errorf("Default(\"b\") = %v, %v", c, err)
	}
	if _, err := acct.Default("nope"); !errors.Is(err, ErrNoMatchingDevice) {
		t.Errorf("Default(\"nope\") error = %v, want ErrNoMatchingDevice", err)
	}
}

func TestRun_AgainstSimulator(t *testing.T) {
	sim := simulator.New(simulator.Options{Username: "u@example.com", Password: "pw", DeviceID: "dev1"})
	server := httptest.NewServer(sim.Handler())
	t.Cleanup(func() {
		sim.Close()
		server.Close()
	})

	client := cloudapi.NewClientWithURL(simulator.APIURL(server.URL), "u@example.com", "pw")
	client.SetRetry(1, time.Millisecond)

	acct, err := Connect(context.Background(), client, Options{
		Session: session.Options{
			URL:             simulator.WebSocketURL(server.URL),
			PollInterval:    10 * time.Millisecond,
			RefreshInterval: 50 * time.Millisecond,
			PingInterval:    -1,
		},
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- acct.Run(ctx) }()

	ctrl := acct.Controllers()[0]
	deadline := time.Now().Add(3 * time.Second)
	for ctrl.State() != session.StateOpen && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ctrl.State() != session.StateOpen {
		t.Fatalf("State() = %v, want open", ctrl.State())
	}
	if !ctrl.Snapshot().IsClosed() {
		t.Errorf("initial door state = %q, want Closed from discovery", ctrl.Snapshot().DoorState())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not stop")
	}
	if ctrl.IsAvailable() {
		t.Error("IsAvailable() = true after Run stopped")
	}
}
