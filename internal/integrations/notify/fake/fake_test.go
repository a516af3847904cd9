package fake

import (
	"context"
	"testing"

	"github.com/BearBump/SafeZone/internal/integrations/notify"
	"github.com/BearBump/SafeZone/internal/models"
	"github.com/stretchr/testify/require"
)

func TestGateway_Send(t *testing.T) {
	g := New("")
	require.Equal(t, models.ChannelEmail, g.Channel())

	id, err := g.Send(context.Background(), "a@example.org", "SOS", "body")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = g.Send(context.Background(), "fail@example.org", "SOS", "body")
	require.Error(t, err)
	require.False(t, notify.IsTransient(err))

	sent := g.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "a@example.org", sent[0].Address)
}
