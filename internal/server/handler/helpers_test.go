package handler

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

func TestParseListOpts(t *testing.T) {
	for query, want := range map[string]domain.ListOpts{
		"":                     {Limit: 50},
		"?limit=10&offset=20":  {Limit: 10, Offset: 20},
		"?limit=9999":          {Limit: 500},
		"?limit=0&offset=-3":   {Limit: 50},
		"?limit=abc&offset=xy": {Limit: 50},
	} {
		r := httptest.NewRequest("GET", "/api/sessions"+query, nil)
		assert.Equal(t, want, parseListOpts(r), query)
	}
}
