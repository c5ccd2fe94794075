package autoheal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoheal/internal/utils"
)

func TestCommandRestarterTemplate(t *testing.T) {
	r, err := NewCommandRestarter([]string{"systemctl", "restart", "{service}.service"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"systemctl", "restart", "bridge.service"}, r.Command("bridge"))

	appended, err := NewCommandRestarter([]string{"docker", "restart"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"docker", "restart", "bridge"}, appended.Command("bridge"))

	_, err = NewCommandRestarter(nil, time.Second)
	assert.Error(t, err)
}

func TestCommandRestarterExitStatus(t *testing.T) {
	ok, err := NewCommandRestarter([]string{"true", "{service}"}, time.Second)
	require.NoError(t, err)
	assert.NoError(t, ok.Restart(context.Background(), "bridge"))

	fail, err := NewCommandRestarter([]string{"false", "{service}"}, time.Second)
	require.NoError(t, err)
	err = fail.Restart(context.Background(), "bridge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart bridge")
}

func TestDryRunRestarter(t *testing.T) {
	assert.NoError(t, NewDryRunRestarter(utils.DiscardLogger()).Restart(context.Background(), "bridge"))
}
