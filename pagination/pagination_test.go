/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pagination

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		opts      Opts
		wantPage  Page
		wantParam string
	}{
		{
			name:     "no parameters, defaults used",
			query:    "",
			wantPage: Page{Limit: DefaultLimit, Offset: 0},
		},
		{
			name:     "limit and offset",
			query:    "limit=20&offset=40",
			wantPage: Page{Limit: 20, Offset: 40},
		},
		{
			name:     "page alias",
			query:    "limit=25&page=3",
			wantPage: Page{Limit: 25, Offset: 50},
		},
		{
			name:     "first page is zero offset",
			query:    "page=1",
			wantPage: Page{Limit: DefaultLimit, Offset: 0},
		},
		{
			name:     "limit is capped",
			query:    "limit=100000",
			wantPage: Page{Limit: DefaultMaxLimit, Offset: 0},
		},
		{
			name:     "custom defaults",
			query:    "limit=500",
			opts:     Opts{DefaultLimit: 10, MaxLimit: 100},
			wantPage: Page{Limit: 100, Offset: 0},
		},
		{
			name:      "non-numeric limit",
			query:     "limit=ten",
			wantParam: ParamLimit,
		},
		{
			name:      "zero limit",
			query:     "limit=0",
			wantParam: ParamLimit,
		},
		{
			name:      "negative offset",
			query:     "offset=-1",
			wantParam: ParamOffset,
		},
		{
			name:      "non-numeric offset",
			query:     "offset=abc",
			wantParam: ParamOffset,
		},
		{
			name:      "zero page",
			query:     "page=0",
			wantParam: ParamPage,
		},
		{
			name:      "page combined with offset",
			query:     "page=2&offset=10",
			wantParam: ParamPage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			page, err := ParseWithOpts(values, tt.opts)
			if tt.wantParam != "" {
				var paramErr *MalformedParamError
				require.ErrorAs(t, err, &paramErr)
				require.Equal(t, tt.wantParam, paramErr.ParamName)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantPage, page)
		})
	}
}

func TestPageSlice(t *testing.T) {
	tests := []struct {
		name   string
		page   Page
		n      int
		wantLo int
		wantHi int
	}{
		{"first window", Page{Limit: 10, Offset: 0}, 25, 0, 10},
		{"middle window", Page{Limit: 10, Offset: 10}, 25, 10, 20},
		{"trailing partial window", Page{Limit: 10, Offset: 20}, 25, 20, 25},
		{"offset beyond collection", Page{Limit: 10, Offset: 100}, 25, 25, 25},
		{"empty collection", Page{Limit: 10, Offset: 0}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := tt.page.Slice(tt.n)
			require.Equal(t, tt.wantLo, lo)
			require.Equal(t, tt.wantHi, hi)
			require.LessOrEqual(t, lo, hi)
		})
	}
}
