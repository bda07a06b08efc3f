package webrtc_ext

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// Creates Pion's WebRTC API with the codecs, header extensions, interceptors
// and ICE timeouts every peer connection of a call uses.
func createWebRTCAPI(config Config) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}

	// Audio levels computed by the sender (RFC 6464), used for speaking
	// detection when the stream can't be decoded locally.
	if err := mediaEngine.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, fmt.Errorf("failed to register audio level extension: %w", err)
	}

	// Create a InterceptorRegistry. This is the user configurable RTP/RTCP
	// Pipeline. This provides NACKs, RTCP Reports and other features. If
	// `webrtc.NewPeerConnection` is used, then it is enabled by default. If
	// it's managed manually, one must create an InterceptorRegistry for each
	// PeerConnection.
	interceptors := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptors); err != nil {
		return nil, fmt.Errorf("failed to set default interceptors: %w", err)
	}

	settings := webrtc.SettingEngine{}
	settings.SetICETimeouts(config.timeouts())

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptors),
		webrtc.WithSettingEngine(settings),
	), nil
}

func (c Config) configuration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, server := range c.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	return webrtc.Configuration{ICEServers: servers}
}
