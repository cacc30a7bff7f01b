package tools

import (
	"reflect"
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TALKIFY_T_STR", "abc")
	t.Setenv("TALKIFY_T_INT", "42")
	t.Setenv("TALKIFY_T_BAD_INT", "x")
	t.Setenv("TALKIFY_T_BOOL", "Yes")
	t.Setenv("TALKIFY_T_DUR", "1500")
	t.Setenv("TALKIFY_T_DUR2", "2s")
	t.Setenv("TALKIFY_T_LIST", " a, ,b ")

	if GetEnv("TALKIFY_T_STR", "d") != "abc" || GetEnv("TALKIFY_T_MISSING", "d") != "d" {
		t.Fatalf("GetEnv mismatch")
	}
	if GetEnvInt("TALKIFY_T_INT", 1) != 42 || GetEnvInt("TALKIFY_T_BAD_INT", 7) != 7 {
		t.Fatalf("GetEnvInt mismatch")
	}
	if !GetEnvBool("TALKIFY_T_BOOL", false) || GetEnvBool("TALKIFY_T_MISSING", false) {
		t.Fatalf("GetEnvBool mismatch")
	}
	if GetEnvDuration("TALKIFY_T_DUR", 0) != 1500*time.Millisecond {
		t.Fatalf("ms duration mismatch")
	}
	if GetEnvDuration("TALKIFY_T_DUR2", 0) != 2*time.Second {
		t.Fatalf("duration mismatch")
	}
	if got := GetEnvList("TALKIFY_T_LIST", nil); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("list = %v", got)
	}
}
