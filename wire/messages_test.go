package wire

import "testing"

func TestWorkerCommandRoundTrip(t *testing.T) {
	cases := []*WorkerCommand{
		{Kind: CmdStep, Nonce: 42, Actions: []byte{1, 2, 3}},
		{Kind: CmdReset, Nonce: 0},
		{Kind: CmdResetClient, Nonce: 7, InstanceID: 123456789},
		{Kind: CmdNoCommand, Nonce: -1},
	}
	for _, want := range cases {
		var buf Buffer
		want.Encode(&buf)
		got, err := DecodeWorkerCommand(NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Kind != want.Kind || got.Nonce != want.Nonce || got.InstanceID != want.InstanceID {
			t.Fatalf("mismatch: got %+v want %+v", got, want)
		}
		if string(got.Actions) != string(want.Actions) {
			t.Fatalf("actions mismatch: got %v want %v", got.Actions, want.Actions)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	want := &Frame{
		Observation: &Array{Data: []byte{9, 8, 7}, Shape: []uint32{3}, Dtype: "uint8"},
		Reward:      1.5,
		Done:        true,
		Info:        []byte(`{"steps":3}`),
		Nonce:       99,
	}
	var buf Buffer
	want.Encode(&buf)
	got, err := DecodeFrame(NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Reward != want.Reward || got.Done != want.Done || got.Nonce != want.Nonce {
		t.Fatalf("scalar mismatch: got %+v want %+v", got, want)
	}
	if string(got.Info) != string(want.Info) {
		t.Fatalf("info mismatch: got %s want %s", got.Info, want.Info)
	}
	if got.Observation == nil || string(got.Observation.Data) != string(want.Observation.Data) {
		t.Fatalf("observation mismatch: got %+v want %+v", got.Observation, want.Observation)
	}
}

func TestMasterRequestRoundTrip(t *testing.T) {
	want := &MasterRequest{
		Command:    ReqFrame,
		ClientID:   5,
		InstanceID: 77,
		Frame: &Frame{
			Observation: &Array{Data: []byte{1}, Shape: []uint32{1}, Dtype: "bool"},
			Reward:      0,
			Done:        false,
			Nonce:       3,
		},
	}
	var buf Buffer
	want.Encode(&buf)
	got, err := DecodeMasterRequest(NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Command != want.Command || got.ClientID != want.ClientID || got.InstanceID != want.InstanceID {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
	if got.Frame == nil || got.Frame.Nonce != want.Frame.Nonce {
		t.Fatalf("frame mismatch: got %+v", got.Frame)
	}
}

func TestMasterResponseRoundTrip(t *testing.T) {
	want := &MasterResponse{
		Kind: RespOKEncourage,
		Connect: &ConnectResponse{
			EnvironmentID: 4,
			LastCommand:   &WorkerCommand{Kind: CmdStep, Nonce: 10},
		},
	}
	var buf Buffer
	want.Encode(&buf)
	got, err := DecodeMasterResponse(NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != want.Kind {
		t.Fatalf("kind mismatch: got %v want %v", got.Kind, want.Kind)
	}
	if got.Connect == nil || got.Connect.EnvironmentID != want.Connect.EnvironmentID {
		t.Fatalf("connect mismatch: got %+v", got.Connect)
	}
	if got.Connect.LastCommand == nil || got.Connect.LastCommand.Nonce != 10 {
		t.Fatalf("last command mismatch: got %+v", got.Connect.LastCommand)
	}
}

func TestNameResponseRoundTrip(t *testing.T) {
	want := &NameResponse{
		EnvName:           "CartPole-v1",
		Seed:              1234,
		ServerVersion:     2,
		ClientID:          9,
		InstanceID:        555,
		ResetCompensation: true,
	}
	var buf Buffer
	want.Encode(&buf)
	got, err := DecodeNameResponse(NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *want {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
}
