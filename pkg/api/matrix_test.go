package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMatrixEntriesCartesianProduct verifies that a 2x3 matrix expands to
// exactly 6 entries, in declaration order with the first axis varying slowest.
func TestMatrixEntriesCartesianProduct(t *testing.T) {
	t.Parallel()

	m := Matrix{
		Axes: []Axis{
			{Name: "os", Values: []string{"ubuntu-latest", "macos-latest"}},
			{Name: "python", Values: []string{"3.11", "3.10", "3.9"}},
		},
	}

	entries, err := m.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 6)

	want := []string{
		"os=ubuntu-latest,python=3.11",
		"os=ubuntu-latest,python=3.10",
		"os=ubuntu-latest,python=3.9",
		"os=macos-latest,python=3.11",
		"os=macos-latest,python=3.10",
		"os=macos-latest,python=3.9",
	}
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.Key())
	}
	require.Equal(t, want, got, "entries should follow declaration order")

	// Every entry appears exactly once.
	seen := make(map[string]int)
	for _, k := range got {
		seen[k]++
	}
	for k, n := range seen {
		require.Equal(t, 1, n, "entry %s scheduled %d times", k, n)
	}
}

// TestMatrixEntriesZeroMatrix ensures a workflow without a matrix still
// schedules exactly one job with the "default" entry key.
func TestMatrixEntriesZeroMatrix(t *testing.T) {
	t.Parallel()

	entries, err := Matrix{}.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Empty(t, entries[0])
	require.Equal(t, "default", entries[0].Key())
}

func TestMatrixEntriesExclude(t *testing.T) {
	t.Parallel()

	m := Matrix{
		Axes: []Axis{
			{Name: "os", Values: []string{"ubuntu-latest", "macos-latest"}},
			{Name: "python", Values: []string{"3.11", "3.10"}},
		},
		Exclude: []map[string]string{
			{"os": "macos-latest", "python": "3.10"},
		},
	}

	entries, err := m.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		require.NotEqual(t, "os=macos-latest,python=3.10", e.Key())
	}
}

// TestMatrixEntriesInclude covers both include modes: extending matching
// product entries with extra keys, and appending a standalone entry when
// nothing matches.
func TestMatrixEntriesInclude(t *testing.T) {
	t.Parallel()

	m := Matrix{
		Axes: []Axis{
			{Name: "os", Values: []string{"ubuntu-latest", "macos-latest"}},
		},
		Include: []map[string]string{
			{"os": "ubuntu-latest", "experimental": "true"},
			{"os": "windows-latest"},
		},
	}

	entries, err := m.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var ubuntu Entry
	for _, e := range entries {
		if e["os"] == "ubuntu-latest" {
			ubuntu = e
		}
	}
	require.NotNil(t, ubuntu)
	require.Equal(t, "true", ubuntu["experimental"], "include should extend the matching entry")

	require.Equal(t, "os=windows-latest", entries[2].Key(), "unmatched include should stand alone")
}

func TestMatrixEntriesValidation(t *testing.T) {
	t.Parallel()

	_, err := Matrix{Axes: []Axis{{Name: "", Values: []string{"x"}}}}.Entries()
	require.Error(t, err)

	_, err = Matrix{Axes: []Axis{{Name: "os", Values: nil}}}.Entries()
	require.Error(t, err)

	_, err = Matrix{Axes: []Axis{
		{Name: "os", Values: []string{"a"}},
		{Name: "os", Values: []string{"b"}},
	}}.Entries()
	require.Error(t, err)

	_, err = Matrix{
		Axes:    []Axis{{Name: "os", Values: []string{"a"}}},
		Exclude: []map[string]string{{"os": "a"}},
	}.Entries()
	require.Error(t, err, "excluding every entry should be rejected")
}

func TestEntryExpand(t *testing.T) {
	t.Parallel()

	e := Entry{"os": "ubuntu-latest", "python": "3.11"}

	require.Equal(t, "setup-python 3.11", e.Expand("setup-python ${{ matrix.python }}"))
	require.Equal(t, "3.11 on ubuntu-latest", e.Expand("${{matrix.python}} on ${{ matrix.os }}"))
	require.Equal(t, "${{ matrix.node }}", e.Expand("${{ matrix.node }}"), "unknown refs stay untouched")
	require.Equal(t, "plain", e.Expand("plain"))
}
