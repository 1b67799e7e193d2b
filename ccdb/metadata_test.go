// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package ccdb

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestParseMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Metadata
		nErrors int
	}{
		{
			name:    "drops invalid tag token",
			in:      "run=42;tag=invalidnosep;site=CERN",
			want:    Metadata{{Key: "run", Value: "42"}, {Key: "site", Value: "CERN"}},
			nErrors: 1,
		},
		{
			name: "empty",
			in:   "",
		},
		{
			name: "skips empty tokens silently",
			in:   ";;run=1;;",
			want: Metadata{{Key: "run", Value: "1"}},
		},
		{
			name: "trims keys and values",
			in:   " run = 7 ; detector=MFT ",
			want: Metadata{{Key: "run", Value: "7"}, {Key: "detector", Value: "MFT"}},
		},
		{
			name:    "too many separators and empty key",
			in:      "a=b=c;=x;ok=1",
			want:    Metadata{{Key: "ok", Value: "1"}},
			nErrors: 2,
		},
		{
			name:    "drops token without separator",
			in:      "run=42;nosep;site=CERN",
			want:    Metadata{{Key: "run", Value: "42"}, {Key: "site", Value: "CERN"}},
			nErrors: 1,
		},
		{
			name:    "rejects descriptor fields in any case",
			in:      "Checksum=abc;ETag=x;validFrom=0;FILENAME=a.bin;run=1;tagline=ok",
			want:    Metadata{{Key: "run", Value: "1"}, {Key: "tagline", Value: "ok"}},
			nErrors: 4,
		},
		{
			name: "later duplicate overwrites in place",
			in:   "run=1;site=CERN;run=2",
			want: Metadata{{Key: "run", Value: "2"}, {Key: "site", Value: "CERN"}},
		},
		{
			name: "empty value is kept",
			in:   "comment=",
			want: Metadata{{Key: "comment", Value: ""}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, errs := ParseMetadata(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseMetadata(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
			assert.Len(t, errs, tt.nErrors)
			for _, err := range errs {
				assert.ErrorIs(t, err, ErrMalformedMetadataToken)
			}
		})
	}
}

func TestIsReservedKey(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"tag", "TAG", "ETag", "path", "objectType", "checksum"} {
		assert.True(t, IsReservedKey(key), key)
	}
	for _, key := range []string{"run", "site", "partition", "tags", ""} {
		assert.False(t, IsReservedKey(key), key)
	}
}

func TestMetadata_String(t *testing.T) {
	t.Parallel()

	m := Metadata{{Key: "run", Value: "42"}, {Key: "site", Value: "CERN"}}
	assert.Equal(t, "run=42;site=CERN", m.String())

	v, ok := m.Get("site")
	assert.True(t, ok)
	assert.Equal(t, "CERN", v)
	_, ok = m.Get("tag")
	assert.False(t, ok)
}
