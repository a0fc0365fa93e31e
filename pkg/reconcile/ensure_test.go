package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newtron-network/nbseed/pkg/netbox"
)

type thing struct{ name string }

var errConflict = &netbox.ConflictError{Endpoint: "dcim/sites", Fields: []string{"name"}}

func TestEnsure(t *testing.T) {
	created := &thing{"new"}
	existing := &thing{"old"}
	boom := errors.New("boom")

	tests := []struct {
		name      string
		op        EnsureOp[thing]
		want      State
		wantRec   *thing
		wantErr   error
		wantInErr string
	}{
		{
			name: "created",
			op: EnsureOp[thing]{
				Create: func(context.Context) (*thing, error) { return created, nil },
			},
			want:    Created,
			wantRec: created,
		},
		{
			name: "conflict fetches existing",
			op: EnsureOp[thing]{
				Create: func(context.Context) (*thing, error) { return nil, errConflict },
				Fetch:  func(context.Context) (*thing, error) { return existing, nil },
			},
			want:    Existing,
			wantRec: existing,
		},
		{
			name: "conflict without fetch skips",
			op: EnsureOp[thing]{
				Create: func(context.Context) (*thing, error) { return nil, errConflict },
			},
			want: Skipped,
		},
		{
			name: "lookup hit never creates",
			op: EnsureOp[thing]{
				Lookup: func(context.Context) (*thing, bool, error) { return existing, true, nil },
				Create: func(context.Context) (*thing, error) { panic("create called") },
			},
			want:    Existing,
			wantRec: existing,
		},
		{
			name: "lookup miss creates",
			op: EnsureOp[thing]{
				Lookup: func(context.Context) (*thing, bool, error) { return nil, false, nil },
				Create: func(context.Context) (*thing, error) { return created, nil },
			},
			want:    Created,
			wantRec: created,
		},
		{
			name: "lookup error",
			op: EnsureOp[thing]{
				Lookup: func(context.Context) (*thing, bool, error) { return nil, false, boom },
				Create: func(context.Context) (*thing, error) { panic("create called") },
			},
			wantErr:   boom,
			wantInErr: "lookup",
		},
		{
			name: "other error is returned",
			op: EnsureOp[thing]{
				Create: func(context.Context) (*thing, error) { return nil, boom },
				Fetch:  func(context.Context) (*thing, error) { panic("fetch called") },
			},
			wantErr:   boom,
			wantInErr: "ensuring site vagrantlab",
		},
		{
			name: "fetch error after conflict",
			op: EnsureOp[thing]{
				Create: func(context.Context) (*thing, error) { return nil, errConflict },
				Fetch:  func(context.Context) (*thing, error) { return nil, boom },
			},
			wantErr:   boom,
			wantInErr: "fetching existing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.op.Kind, tt.op.Key = "site", "vagrantlab"
			out, err := Ensure(context.Background(), tt.op)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Contains(t, err.Error(), tt.wantInErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.State)
			assert.Same(t, tt.wantRec, out.Record)
			assert.Equal(t, "site", out.Kind)
			assert.Equal(t, "vagrantlab", out.Key)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "exists", Existing.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "State(7)", State(7).String())
}
