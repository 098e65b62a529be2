package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/capiscio/meta-issuer/pkg/api"
)

const defaultServerURL = "http://127.0.0.1:8080"

var (
	serverURL     string
	callerKeyFile string
)

// addClientFlags registers the API connection flags on cmd and its children.
func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL, "Issuer API base URL")
	cmd.PersistentFlags().StringVar(&callerKeyFile, "key", "", "Caller private key (JWK); empty calls anonymously")
}

func newClient() (*api.Client, error) {
	if callerKeyFile == "" {
		return api.NewClient(serverURL, nil), nil
	}
	key, _, err := loadPrivateKey(callerKeyFile)
	if err != nil {
		return nil, err
	}
	return api.NewClient(serverURL, key), nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
