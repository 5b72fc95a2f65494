package publication

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Normalize(t *testing.T) {
	rec := Record{
		Source:   " pubmed ",
		Title:    "  Café culture in cells  ",
		DOI:      Str("https://doi.org/10.1234/ABC.Def"),
		PMID:     Str("https://pubmed.ncbi.nlm.nih.gov/12345"),
		Abstract: Str("   "),
		Authors:  []string{"Smith, John", "", "  Doe, Jane "},
		Journal:  Str("Nature"),
		FulltextSources: []FulltextRef{
			{URL: "https://example.org/a"},
			{URL: "  ", Format: "pdf"},
			{Source: "pmc", URL: "https://pmc.example/b", Format: "PDF", Version: Str("")},
		},
	}

	got, err := rec.Normalize()
	require.NoError(t, err)

	assert.Equal(t, "pubmed", got.Source)
	assert.Equal(t, "Café culture in cells", got.Title)
	require.NotNil(t, got.DOI)
	assert.Equal(t, "10.1234/abc.def", *got.DOI)
	require.NotNil(t, got.PMID)
	assert.Equal(t, "12345", *got.PMID)
	assert.Nil(t, got.Abstract)
	assert.Equal(t, []string{"Smith, John", "Doe, Jane"}, got.Authors)
	assert.Equal(t, []string{}, got.Keywords)

	require.Len(t, got.FulltextSources, 2)
	assert.Equal(t, FulltextRef{Source: "pubmed", URL: "https://example.org/a", Format: "html"}, got.FulltextSources[0])
	assert.Equal(t, "pdf", got.FulltextSources[1].Format)
	assert.Nil(t, got.FulltextSources[1].Version)
}

func TestRecord_NormalizeDOIPrefixes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.1/x", "10.1/x"},
		{"doi:10.1/X", "10.1/x"},
		{"DOI:10.1/x", "10.1/x"},
		{"http://dx.doi.org/10.1/x", "10.1/x"},
		{"HTTPS://DOI.ORG/10.1/x", "10.1/x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Record{Source: "s", Title: "t", DOI: Str(tt.in)}.Normalize()
			require.NoError(t, err)
			assert.Equal(t, tt.want, Deref(got.DOI))
		})
	}
}

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{"valid", Record{Source: "s", Title: "t"}, false},
		{"missing title", Record{Source: "s", DOI: Str("10.1/x")}, true},
		{"whitespace title", Record{Source: "s", Title: "   "}, true},
		{"missing source", Record{Title: "t"}, true},
		{"year only", Record{Source: "s", Title: "t", PublicationDate: Str("2024")}, false},
		{"year month", Record{Source: "s", Title: "t", PublicationDate: Str("2024-06")}, false},
		{"full date", Record{Source: "s", Title: "t", PublicationDate: Str("2024-06-10")}, false},
		{"bad date", Record{Source: "s", Title: "t", PublicationDate: Str("June 2024")}, true},
		{"bad month", Record{Source: "s", Title: "t", PublicationDate: Str("2024-13")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.rec.Normalize()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRecord))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDayHelpers(t *testing.T) {
	loc := time.FixedZone("AEST", 10*3600)
	ts := time.Date(2024, 6, 10, 23, 30, 0, 0, loc)

	assert.Equal(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), Day(ts))
	assert.Equal(t, "2024-06-10", FormatDay(ts))

	d, err := ParseDay("2024-06-10")
	require.NoError(t, err)
	assert.True(t, d.Equal(Day(ts)))
}

func TestDayStatus_Retry(t *testing.T) {
	assert.False(t, DayCompleted.Retry())
	assert.True(t, DayPartial.Retry())
	assert.True(t, DayFailed.Retry())
	assert.False(t, DayStatus("pending").Valid())
}

func TestDownloadDay_MarshalJSON(t *testing.T) {
	day := DownloadDay{
		Source:      "pubmed",
		Date:        time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		Status:      DayCompleted,
		RecordCount: 7,
	}
	data, err := json.Marshal(day)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "2024-06-10", got["date"])
	assert.Equal(t, "completed", got["status"])
	assert.EqualValues(t, 7, got["record_count"])
}

func TestNormalizeDOI(t *testing.T) {
	assert.Equal(t, "10.1101/2024.01.01.123", NormalizeDOI("https://doi.org/10.1101/2024.01.01.123"))
	assert.Equal(t, "10.1/abc", NormalizeDOI("  10.1/ABC "))
	assert.Equal(t, "", NormalizeDOI("   "))
}
