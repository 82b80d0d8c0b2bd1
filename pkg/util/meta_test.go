package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	TypeMeta `json:",inline"`
	Name     string `json:"name"`
}

func TestUnmarshalWithKind(t *testing.T) {
	tt := map[string]struct {
		data        string
		expected    *doc
		errContains string
	}{
		"yaml": {
			data:     "kind: Eval\nname: smoke\n",
			expected: &doc{TypeMeta: TypeMeta{Kind: "Eval"}, Name: "smoke"},
		},
		"json with api version": {
			data:     `{"apiVersion":"medbench/v1alpha1","kind":"Eval","name":"smoke"}`,
			expected: &doc{TypeMeta: TypeMeta{APIVersion: APIVersionV1Alpha1, Kind: "Eval"}, Name: "smoke"},
		},
		"wrong kind": {
			data:        "kind: Agent\n",
			errContains: "invalid kind 'Agent'",
		},
		"unknown api version": {
			data:        "apiVersion: other/v9\nkind: Eval\n",
			errContains: "unknown apiVersion",
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			got := &doc{}
			err := UnmarshalWithKind([]byte(tc.data), got, "Eval")
			if tc.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
			assert.Equal(t, APIVersionV1Alpha1, got.GetAPIVersion())
		})
	}
}

func TestVerbose(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerbose(ctx))
	assert.True(t, IsVerbose(WithVerbose(ctx, true)))
	assert.False(t, IsVerbose(WithVerbose(ctx, false)))
}
