package matrix

import "maunium.net/go/mautrix/id"

// Configuration for the Matrix client.
type Config struct {
	// The Matrix ID (MXID) of the account the participant signals with.
	UserID id.UserID `yaml:"userId"`
	// The URL of the homeserver.
	HomeserverURL string `yaml:"homeserverUrl"`
	// The access token for the Matrix SDK.
	AccessToken string `yaml:"accessToken"`
	// Server name of the board room aliases. Defaults to the server of UserID.
	AliasServer string `yaml:"aliasServer"`
}
