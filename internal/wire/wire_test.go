package wire

import (
	"strings"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	frame, err := EncodeRequest(42, "resource_read", map[string]any{"instId": 1, "rscIds": []uint64{5}})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	s := string(frame)
	if !strings.HasPrefix(s, Prefix) {
		t.Fatalf("frame = %q, want prefix %q", s, Prefix)
	}
	if !strings.HasSuffix(s, "\n") {
		t.Fatalf("frame = %q, want trailing newline", s)
	}

	rest := strings.TrimPrefix(strings.TrimSuffix(s, "\n"), Prefix)
	sep := strings.IndexByte(rest, ':')
	if sep < 0 {
		t.Fatalf("frame %q missing length separator", s)
	}
	payload := rest[sep+1:]
	if !strings.Contains(payload, `"method":"resource_read"`) {
		t.Errorf("payload = %q, want method resource_read", payload)
	}
	if !strings.Contains(payload, `"id":42`) {
		t.Errorf("payload = %q, want id 42", payload)
	}
}

func TestDecodeReply(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
		verify  func(t *testing.T, f Frame)
	}{
		{
			name: "result reply",
			line: `IrisJson:35:{"jsonrpc":"2.0","result":7,"id":3}` + "\n",
			verify: func(t *testing.T, f Frame) {
				if f.Kind != KindReply {
					t.Fatalf("kind = %v, want KindReply", f.Kind)
				}
				if f.ID != 3 {
					t.Errorf("id = %d, want 3", f.ID)
				}
				if string(f.Result) != "7" {
					t.Errorf("result = %q, want 7", f.Result)
				}
			},
		},
		{
			name: "error reply",
			line: `IrisJson:43:{"jsonrpc":"2.0","error":{"code":1},"id":9}` + "\n",
			verify: func(t *testing.T, f Frame) {
				if f.Kind != KindReply {
					t.Fatalf("kind = %v, want KindReply", f.Kind)
				}
				if f.ID != 9 {
					t.Errorf("id = %d, want 9", f.ID)
				}
				if len(f.Error) == 0 {
					t.Error("expected a non-empty error payload")
				}
			},
		},
		{
			name: "event callback",
			line: `IrisJson:47:{"method":"ec_IRIS_BREAKPOINT_HIT","params":{}}` + "\n",
			verify: func(t *testing.T, f Frame) {
				if f.Kind != KindEvent {
					t.Fatalf("kind = %v, want KindEvent", f.Kind)
				}
				if f.Method != "ec_IRIS_BREAKPOINT_HIT" {
					t.Errorf("method = %q", f.Method)
				}
			},
		},
		{
			name:    "missing prefix",
			line:    `{"jsonrpc":"2.0","result":7,"id":3}` + "\n",
			wantErr: true,
		},
		{
			name:    "length mismatch",
			line:    `IrisJson:99:{"result":7,"id":3}` + "\n",
			wantErr: true,
		},
		{
			name:    "neither reply nor event",
			line:    `IrisJson:17:{"jsonrpc":"2.0"}` + "\n",
			wantErr: true,
		},
		{
			name:    "declared length over the frame limit",
			line:    `IrisJson:16777217:{}` + "\n",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Decode([]byte(tc.line))
			if (err != nil) != tc.wantErr {
				t.Fatalf("Decode(%q) error = %v, wantErr %v", tc.line, err, tc.wantErr)
			}
			if err == nil && tc.verify != nil {
				tc.verify(t, f)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	frame, err := EncodeRequest(5, "instanceRegistry_getList", map[string]any{"prefix": ""})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	// A real server reply carries the request's id back, not the request
	// itself; this only checks that a hand-built reply framed the same
	// way decodes cleanly, proving the framing is self-consistent.
	replyLine := []byte(`IrisJson:20:{"result":[],"id":5}` + "\n")
	f, err := Decode(replyLine)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.ID != 5 {
		t.Errorf("id = %d, want 5", f.ID)
	}
	_ = frame
}
