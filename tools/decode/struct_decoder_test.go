package decode

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

type sample struct {
	Name    string         `json:"name"`
	Count   int64          `json:"count"`
	Tags    []string       `json:"tags"`
	Extra   map[string]any `json:"extra"`
	Timeout time.Duration  `json:"timeout"`
}

func TestDecodeFromJSONMap(t *testing.T) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(`{"name":"a","count":3,"tags":["x",1],"extra":"{\"k\":\"v\"}","timeout":"2s"}`), &raw); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeTo[sample](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "a" || got.Count != 3 {
		t.Fatalf("unexpected %+v", got)
	}
	if !reflect.DeepEqual(got.Tags, []string{"x", "1"}) {
		t.Fatalf("tags = %v", got.Tags)
	}
	if got.Extra["k"] != "v" {
		t.Fatalf("extra = %v", got.Extra)
	}
	if got.Timeout != 2*time.Second {
		t.Fatalf("timeout = %v", got.Timeout)
	}
}

func TestDecodeErrorUnused(t *testing.T) {
	opts := DefaultOptions()
	opts.ErrorUnused = true
	if _, err := DecodeTo[sample](map[string]any{"nope": 1}, opts); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if err := Decode(nil, &sample{}); err == nil {
		t.Fatalf("expected error for nil input")
	}
}

func TestReadString(t *testing.T) {
	m := map[string]any{"a": "x", "b": 1}
	if s, err := ReadString(m, "a"); err != nil || s != "x" {
		t.Fatalf("got %q %v", s, err)
	}
	if _, err := ReadString(m, "b"); err == nil {
		t.Fatalf("expected type error")
	}
	if _, err := ReadString(m, "c"); err == nil {
		t.Fatalf("expected missing error")
	}
}
