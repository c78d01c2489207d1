package portupdate

import (
	"testing"

	"github.com/konsulko/pipewire/internal/node"
	"github.com/konsulko/pipewire/internal/testingsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInfoOnlyMasksCanAllocBuffers(t *testing.T) {
	mock := testingsupport.NewMockNode(1, 1)

	u, err := Build(mock, node.DirectionInput, 0, ChangeInfo)
	require.NoError(t, err)
	require.NotNil(t, u.Info)
	assert.False(t, u.Info.CanAllocBuffers)
	assert.Nil(t, u.Params)
}

func TestBuildParamsOnlyNoInfo(t *testing.T) {
	mock := testingsupport.NewMockNode(1, 1)

	u, err := Build(mock, node.DirectionOutput, 0, ChangeParams)
	require.NoError(t, err)
	assert.Nil(t, u.Info)
	assert.Empty(t, u.Params)
}

func TestBuildBothMasksSet(t *testing.T) {
	mock := testingsupport.NewMockNode(1, 1)

	u, err := Build(mock, node.DirectionInput, 0, ChangeParams|ChangeInfo)
	require.NoError(t, err)
	assert.NotNil(t, u.Info)
}
