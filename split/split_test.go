//go:build !exclude_he
// +build !exclude_he

package split

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"sqnxt/core/ckkswrapper"
	"sqnxt/models"
	"sqnxt/nn"
	"sqnxt/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyModel(t *testing.T) *models.SqueezeNext {
	t.Helper()
	m, err := models.NewSqueezeNext(0.25, []int{1, 1, 1, 1}, 10, 3)
	require.NoError(t, err)
	m.SetTraining(false)
	return m
}

func TestPayloadCiphertextRoundTrip(t *testing.T) {
	he := ckkswrapper.NewHeContext()
	ct, err := he.EncryptVector([]float64{0.5, -1, 2})
	require.NoError(t, err)
	payload, err := NewCipherPayload(4, ct, 3)
	require.NoError(t, err)
	assert.Equal(t, he.Params.MaxLevel(), payload.Level)

	back, err := payload.Unmarshal(he.Params)
	require.NoError(t, err)
	got, err := he.DecryptVector(back, 3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, -1, 2}, got, 1e-6)

	payload.Level = 99
	_, err = payload.Unmarshal(he.Params)
	assert.Error(t, err)
}

func TestSplitInferenceMatchesPlaintext(t *testing.T) {
	model := tinyModel(t)
	he := ckkswrapper.NewHeContext()

	clientConn, serverConn := net.Pipe()
	client, err := NewClient(clientConn, model, he)
	require.NoError(t, err)
	server, err := NewServer(serverConn, model.Classifier(), client.ServerKit())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- server.Serve(context.Background()) }()

	x := tensor.New(2, 3, 32, 32)
	nn.NewInitializer(17).Normal(x, 1)
	want, err := model.Forward(x)
	require.NoError(t, err)

	got, err := client.Classify(x)
	require.NoError(t, err)
	require.Equal(t, want.Shape, got.Shape)
	for i := range want.Data {
		assert.InDelta(t, want.Data[i], got.Data[i], 1e-3, "logit %d", i)
	}

	require.NoError(t, client.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop after done")
	}
	served, _ := server.Stats()
	assert.Equal(t, 2, served)
	assert.Greater(t, client.Stats.ServerLinearTime, time.Duration(0))
}

func TestServerReportsBadFeatures(t *testing.T) {
	model := tinyModel(t)
	he := ckkswrapper.NewHeContext()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	server, err := NewServer(serverConn, model.Classifier(), he.GenServerKit(model.Classifier().Rotations()))
	require.NoError(t, err)
	go server.Serve(context.Background())

	ct, err := he.EncryptVector([]float64{1, 2, 3})
	require.NoError(t, err)
	payload, err := NewCipherPayload(0, ct, 3)
	require.NoError(t, err)

	p := NewProtocol(clientConn, clientConn)
	require.NoError(t, p.SendFeatures(payload))
	_, err = p.ReceiveLogits()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature dimension 3")
	require.NoError(t, p.SendDone())
}

func TestServeStopsOnCancel(t *testing.T) {
	model := tinyModel(t)
	he := ckkswrapper.NewHeContext()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	server, err := NewServer(serverConn, model.Classifier(), he.GenServerKit(model.Classifier().Rotations()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(10 * time.Second):
		t.Fatal("server ignored cancellation")
	}
}
