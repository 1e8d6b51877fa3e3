package settings

import (
	"errors"
	"reflect"
	"testing"
)

type fakeGetter struct {
	values map[string]string
	err    error
}

func (f *fakeGetter) GetSetting(key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.values[key], nil
}

func TestGet(t *testing.T) {
	svc := NewService(&fakeGetter{values: map[string]string{KeyWelcomeMessage: "Hi there!"}})
	if got := svc.Get(KeyWelcomeMessage, "default"); got != "Hi there!" {
		t.Errorf("Get = %q", got)
	}
	if got := svc.Get("missing", "default"); got != "default" {
		t.Errorf("Get missing = %q, want default", got)
	}
}

func TestGetFallsBackOnError(t *testing.T) {
	svc := NewService(&fakeGetter{err: errors.New("db down")})
	if got := svc.Get(KeyWelcomeMessage, "default"); got != "default" {
		t.Errorf("Get with store error = %q, want default", got)
	}
}

func TestGetBool(t *testing.T) {
	svc := NewService(&fakeGetter{values: map[string]string{
		"a": "true", "b": "YES", "c": "0", "d": " off ", "e": "maybe",
	}})
	cases := []struct {
		key  string
		def  bool
		want bool
	}{
		{"a", false, true},
		{"b", false, true},
		{"c", true, false},
		{"d", true, false},
		{"e", true, true},
		{"missing", true, true},
		{"missing", false, false},
	}
	for _, c := range cases {
		if got := svc.GetBool(c.key, c.def); got != c.want {
			t.Errorf("GetBool(%q, %v) = %v, want %v", c.key, c.def, got, c.want)
		}
	}
}

func TestGetList(t *testing.T) {
	svc := NewService(&fakeGetter{values: map[string]string{
		KeyVIPCodes: "gold123, silver456 ,,bronze789",
	}})
	want := []string{"gold123", "silver456", "bronze789"}
	if got := svc.GetList(KeyVIPCodes); !reflect.DeepEqual(got, want) {
		t.Errorf("GetList = %v, want %v", got, want)
	}
	if got := svc.GetList("missing"); got != nil {
		t.Errorf("GetList missing = %v, want nil", got)
	}
}
