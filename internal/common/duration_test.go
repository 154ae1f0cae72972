package common

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type intervalHolder struct {
	Interval Duration `json:"interval" yaml:"interval" toml:"interval"`
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "milliseconds", input: "5000ms", expected: 5 * time.Second},
		{name: "seconds", input: "5s", expected: 5 * time.Second},
		{name: "composite", input: "1m30s", expected: 90 * time.Second},
		{name: "zero", input: "0s", expected: 0},
		{name: "missing unit", input: "5000", wantErr: true},
		{name: "unknown unit", input: "5d", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, d.Duration)
		})
	}
}

func TestDuration_Decoders(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var h intervalHolder
		require.NoError(t, json.Unmarshal([]byte(`{"interval":"250ms"}`), &h))
		require.Equal(t, 250*time.Millisecond, h.Interval.Duration)
	})

	t.Run("yaml", func(t *testing.T) {
		var h intervalHolder
		require.NoError(t, yaml.Unmarshal([]byte("interval: 2s\n"), &h))
		require.Equal(t, 2*time.Second, h.Interval.Duration)
	})

	t.Run("toml", func(t *testing.T) {
		var h intervalHolder
		_, err := toml.Decode(`interval = "1h"`, &h)
		require.NoError(t, err)
		require.Equal(t, time.Hour, h.Interval.Duration)
	})

	t.Run("yaml invalid", func(t *testing.T) {
		var h intervalHolder
		require.Error(t, yaml.Unmarshal([]byte("interval: soon\n"), &h))
	})
}

func TestDuration_MarshalRoundtrip(t *testing.T) {
	original := intervalHolder{Interval: NewDuration(5 * time.Second)}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	require.JSONEq(t, `{"interval":"5s"}`, string(data))

	var decoded intervalHolder
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, original.Interval.Duration, decoded.Interval.Duration)
}

func TestDuration_JSONSchema(t *testing.T) {
	schema := Duration{}.JSONSchema()

	require.Equal(t, "string", schema.Type)
	require.Equal(t, "Duration", schema.Title)
	require.Contains(t, schema.Examples, "300ms")
}
