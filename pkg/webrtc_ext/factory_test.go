package webrtc_ext

import (
	"testing"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Timeouts(t *testing.T) {
	disconnected, failed, keepAlive := Config{}.timeouts()
	assert.Equal(t, 30*time.Second, disconnected)
	assert.Equal(t, 120*time.Second, failed)
	assert.Equal(t, 2*time.Second, keepAlive)

	disconnected, failed, keepAlive = Config{DisconnectedTimeout: 5, FailedTimeout: 10, KeepAliveInterval: 1}.timeouts()
	assert.Equal(t, 5*time.Second, disconnected)
	assert.Equal(t, 10*time.Second, failed)
	assert.Equal(t, time.Second, keepAlive)
}

func TestConfig_ICEServers(t *testing.T) {
	configuration := Config{ICEServers: []ICEServer{
		{URLs: []string{"turn:turn.example.org"}, Username: "user", Credential: "pass"},
	}}.configuration()

	assert.Equal(t, []webrtc.ICEServer{
		{URLs: []string{"turn:turn.example.org"}, Username: "user", Credential: "pass"},
	}, configuration.ICEServers)
}

func TestFactory_OfferAdvertisesOpusAndAudioLevel(t *testing.T) {
	factory, err := NewPeerConnectionFactory(Config{}, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	connection, err := factory.CreatePeerConnection()
	require.NoError(t, err)
	defer connection.Close()

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	require.NoError(t, connection.AddTrack(track))

	offer, err := connection.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, connection.SetLocalDescription(offer))

	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "opus/48000")
	assert.Contains(t, offer.SDP, sdp.AudioLevelURI)
	assert.NotNil(t, connection.LocalDescription())
	assert.Nil(t, connection.RemoteDescription())
}
