package config

import (
	"strings"

	"golang.org/x/oauth2/clientcredentials"
)

// WalletOAuth décrit l'échange client_credentials du fournisseur wallet
func (c Config) WalletOAuth() *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     c.Wallet.ClientID,
		ClientSecret: c.Wallet.ClientSecret,
		TokenURL:     strings.TrimRight(c.Wallet.BaseURL, "/") + "/v1/oauth2/token",
	}
}
