package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/quantumauth-go/challenge"
	"github.com/quantumauth-io/quantumauth-go/client"
	"github.com/quantumauth-io/quantumauth-go/envelope"
)

type requestFlags struct {
	backend   string
	method    string
	path      string
	data      string
	clientURL string
	bridgeURL string
	appID     string
	encrypt   bool
	bind      bool
	kemKey    string
	kemAlg    string
	aead      string
}

func newRequestCmd(g *globalFlags) *cobra.Command {
	f := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send an authenticated request to a protected backend",
		Example: `  qactl request --backend https://api.example.com --path /secure/data --data '{"q":1}'
  qactl request --backend http://localhost:8080 --path /qa/demo --bridge ws://localhost:8091/bridge \
      --encrypt --kem-public-key "$QA_KEM_PUBLIC_KEY"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			return runRequest(ctx, cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.backend, "backend", "", "protected backend base URL")
	fl.StringVarP(&f.method, "method", "X", "POST", "HTTP method")
	fl.StringVar(&f.path, "path", "/", "request path including any query string")
	fl.StringVarP(&f.data, "data", "d", "", "JSON body")
	fl.StringVar(&f.clientURL, "client-url", "", "local QuantumAuth client (default http://localhost:8090)")
	fl.StringVar(&f.bridgeURL, "bridge", "", "WebSocket URL of a credential holder; overrides --client-url")
	fl.StringVar(&f.appID, "app-id", "", "application id sent with the challenge request")
	fl.BoolVar(&f.encrypt, "encrypt", false, "send the body as an encrypted envelope")
	fl.BoolVar(&f.bind, "bind", false, "bind challenge id, nonce and app id into the envelope")
	fl.StringVar(&f.kemKey, "kem-public-key", "", "base64 ML-KEM public key of the auth service")
	fl.StringVar(&f.kemAlg, "kem-alg", envelope.AlgMLKEM768, "KEM algorithm")
	fl.StringVar(&f.aead, "aead", envelope.AEADAESGCM256, "AEAD algorithm")
	_ = cmd.MarkFlagRequired("backend")
	return cmd
}

func runRequest(ctx context.Context, cmd *cobra.Command, f *requestFlags) error {
	var body any
	if f.data != "" {
		if !json.Valid([]byte(f.data)) {
			return errors.New("--data is not valid JSON")
		}
		body = json.RawMessage(f.data)
	}

	requester, closeFn, err := newRequester(ctx, f)
	if err != nil {
		return err
	}
	defer closeFn()

	cfg := client.Config{
		BackendBaseURL: f.backend,
		Challenger:     requester,
		AppID:          f.appID,
		BindEnvelope:   f.bind,
	}
	if f.encrypt {
		sealer, err := envelope.NewSealer(envelope.Config{Algorithm: f.kemAlg, PublicKeyB64: f.kemKey, AEAD: f.aead})
		if err != nil {
			return err
		}
		cfg.Sealer = sealer
	}
	c, err := client.New(cfg)
	if err != nil {
		return err
	}

	opts := client.Options{Method: f.method, Path: f.path, Body: body}
	var res *client.Result
	if f.encrypt {
		res, err = c.CallProtected(ctx, opts)
	} else {
		res, err = c.Request(ctx, opts)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Err != nil {
		fmt.Fprintln(out, errFmt("request failed: ")+res.Err.Error())
		return res.Err
	}
	field(out, "status", statusText(res.OK, res.Status))
	if res.Data != nil {
		printJSON(out, res.Data)
	} else if res.Raw != nil {
		printJSON(out, res.Raw.Body())
	}
	if !res.OK {
		return errors.Errorf("backend answered %d", res.Status)
	}
	return nil
}

func newRequester(ctx context.Context, f *requestFlags) (challenge.Requester, func(), error) {
	if f.bridgeURL == "" {
		return challenge.NewHTTPRequester(f.clientURL), func() {}, nil
	}
	ch, closeFn, err := dialHolder(ctx, f.bridgeURL)
	if err != nil {
		return nil, nil, err
	}
	return challenge.NewBridgeRequester(ch), closeFn, nil
}
