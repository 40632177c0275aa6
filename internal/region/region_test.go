package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInTableKeyspace(t *testing.T) {
	tests := []struct {
		name string
		r    Region
		want bool
	}{
		{name: "table keyspace region", r: Region{Range: KeyRange{Start: []byte("t_users")}}, want: true},
		{name: "meta region", r: Region{Range: KeyRange{Start: []byte("m_schema")}}, want: false},
		{name: "empty start key", r: Region{Range: KeyRange{Start: nil}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.InTableKeyspace())
		})
	}
}
