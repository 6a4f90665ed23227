package main

import (
	"reflect"
	"testing"

	"github.com/boxlite/boxlite/internal/store"
)

func TestResolveEnvSpecs(t *testing.T) {
	host := map[string]string{"PATH": "/usr/bin:/bin"}
	lookup := func(k string) (string, bool) {
		v, ok := host[k]
		return v, ok
	}

	got := resolveEnvSpecs([]string{"PATH", "MISSING_VAR", "FOO=bar", "FOO=baz"}, lookup)
	want := []store.EnvVar{
		{Key: "PATH", Value: "/usr/bin:/bin"},
		{Key: "FOO", Value: "bar"},
		{Key: "FOO", Value: "baz"}, // duplicates preserved; consumers apply last-wins
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBuildOptionsCPUCap(t *testing.T) {
	f := processFlags{CPUs: 1000}
	opts, err := f.buildOptions("alpine:latest")
	if err != nil {
		t.Fatal(err)
	}
	if opts.CPUs == nil || *opts.CPUs != 255 {
		t.Errorf("cpus = %v, want 255", opts.CPUs)
	}

	f = processFlags{CPUs: 4}
	opts, err = f.buildOptions("alpine:latest")
	if err != nil {
		t.Fatal(err)
	}
	if opts.CPUs == nil || *opts.CPUs != 4 {
		t.Errorf("cpus = %v, want 4", opts.CPUs)
	}

	f = processFlags{}
	opts, err = f.buildOptions("alpine:latest")
	if err != nil {
		t.Fatal(err)
	}
	if opts.CPUs != nil {
		t.Errorf("cpus = %v, want nil when unset", opts.CPUs)
	}
}

func TestParseVolumeSpec(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want store.VolumeMount
		ok   bool
	}{
		{"/data:/mnt/data", store.VolumeMount{HostPath: "/data", GuestPath: "/mnt/data"}, true},
		{"/data:/mnt/data:ro", store.VolumeMount{HostPath: "/data", GuestPath: "/mnt/data", ReadOnly: true}, true},
		{"/data:/mnt/data:rw", store.VolumeMount{}, false},
		{"/data", store.VolumeMount{}, false},
	} {
		got, err := parseVolumeSpec(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("parseVolumeSpec(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("parseVolumeSpec(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}
