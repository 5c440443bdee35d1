package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)

	c, ok := reg.Lookup("DS-V1")
	require.True(t, ok)
	assert.Equal(t, "Desenvolvimento de Sistemas/V1", c.Name)
	assert.Equal(t, 15*60, c.BreakStart)
	assert.Equal(t, 15*60+15, c.BreakEnd)
	assert.Equal(t, "15:00", c.StartClock())
	assert.Equal(t, "15:15", c.EndClock())

	_, ok = reg.Lookup("NOPE")
	assert.False(t, ok)
}

func TestLoadOverride(t *testing.T) {
	reg, err := Load(`{"EL-N1": {"name": "Eletrônica/N1", "breakStart": "20:00", "breakEnd": "20:20"}}`)
	require.NoError(t, err)

	c, ok := reg.Lookup("EL-N1")
	require.True(t, ok)
	assert.Equal(t, 20*60, c.BreakStart)

	// Overrides replace the defaults, not extend them.
	_, ok = reg.Lookup("DS-V1")
	assert.False(t, ok)
}

func TestLoadRejectsMalformedEntries(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"garbage json", `{not json`},
		{"missing minutes", `{"X": {"name": "x", "breakStart": "15", "breakEnd": "15:15"}}`},
		{"non-numeric", `{"X": {"name": "x", "breakStart": "ab:cd", "breakEnd": "15:15"}}`},
		{"hour out of range", `{"X": {"name": "x", "breakStart": "25:00", "breakEnd": "15:15"}}`},
		{"minute out of range", `{"X": {"name": "x", "breakStart": "15:00", "breakEnd": "15:75"}}`},
		{"end before start", `{"X": {"name": "x", "breakStart": "15:15", "breakEnd": "15:00"}}`},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.json)
			assert.Error(t, err)
		})
	}
}

func TestAllSortedByID(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("13:45")
	require.NoError(t, err)
	assert.Equal(t, 13*60+45, m)

	m, err = ParseClock("00:00")
	require.NoError(t, err)
	assert.Equal(t, 0, m)

	_, err = ParseClock("24:00")
	assert.Error(t, err)
}
