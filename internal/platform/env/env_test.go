package env

import (
	"reflect"
	"testing"
	"time"
)

func TestTypedValues(t *testing.T) {
	t.Setenv("ANALYSES_TEST_DURATION", " 3s ")
	t.Setenv("ANALYSES_TEST_BOOL", "true")
	t.Setenv("ANALYSES_TEST_INT", "7")
	t.Setenv("ANALYSES_TEST_FLOAT", "0.25")
	t.Setenv("ANALYSES_TEST_LIST", "a, b,,c")

	if d, err := Duration("ANALYSES_TEST_DURATION", time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("Duration() = %v, %v", d, err)
	}
	if b, err := Bool("ANALYSES_TEST_BOOL", false); err != nil || !b {
		t.Fatalf("Bool() = %v, %v", b, err)
	}
	if i, err := Int("ANALYSES_TEST_INT", 0); err != nil || i != 7 {
		t.Fatalf("Int() = %v, %v", i, err)
	}
	if f, err := Float("ANALYSES_TEST_FLOAT", 0); err != nil || f != 0.25 {
		t.Fatalf("Float() = %v, %v", f, err)
	}
	if got := List("ANALYSES_TEST_LIST", nil); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("List() = %v", got)
	}
	if got := String("ANALYSES_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("String() = %q", got)
	}
}

func TestMalformedValuesNameTheVariable(t *testing.T) {
	t.Setenv("ANALYSES_TEST_INT", "seven")
	if _, err := Int("ANALYSES_TEST_INT", 0); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestOneOf(t *testing.T) {
	t.Setenv("ANALYSES_TEST_STORE", "Badger")
	if v, err := OneOf("ANALYSES_TEST_STORE", "memory", "postgres", "badger", "memory"); err != nil || v != "badger" {
		t.Fatalf("OneOf() = %q, %v", v, err)
	}
	t.Setenv("ANALYSES_TEST_STORE", "sqlite")
	if _, err := OneOf("ANALYSES_TEST_STORE", "memory", "postgres", "badger", "memory"); err == nil {
		t.Fatalf("expected error for unsupported value")
	}
}
