package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/quantumauth-go/bridge"
	"github.com/quantumauth-io/quantumauth-go/bridge/wsbridge"
	"github.com/quantumauth-io/quantumauth-go/challenge"
	"github.com/quantumauth-io/quantumauth-go/cryptoctx"
	qacrypto "github.com/quantumauth-io/quantumauth-go/qa/crypto"
	"github.com/quantumauth-io/quantumauth-go/qa/headers"
	"github.com/quantumauth-io/quantumauth-go/qa/requests"
)

const holderPath = "/bridge"

func newHolderCmd() *cobra.Command {
	var (
		addr     string
		userID   string
		deviceID string
		pqScheme string
	)
	cmd := &cobra.Command{
		Use:   "holder",
		Short: "Run a development credential holder on a WebSocket bridge",
		Long: `holder answers ping and request_challenge messages with proofs that carry a
fresh challenge id, nonce and canonical request signed with an ephemeral
ML-DSA key. The key is printed at startup and forgotten on exit, so only a
development auth service configured with it accepts the proofs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := cryptoctx.New(cryptoctx.Config{PQSchemeName: pqScheme})
			if err != nil {
				return err
			}
			defer func() { _ = signer.Close() }()

			mux := http.NewServeMux()
			mux.Handle(holderPath, wsbridge.Handler(devHolder(signer, userID, deviceID, time.Now), nil))
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			out := cmd.OutOrStdout()
			field(out, "signing key", signer.PQPublicKeyB64())
			fmt.Fprintf(out, "%s ws://%s%s\n", okFmt("holder listening on"), addr, holderPath)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				return srv.Shutdown(context.Background())
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8091", "listen address")
	cmd.Flags().StringVar(&userID, "user-id", "dev-user", "user id placed in proofs")
	cmd.Flags().StringVar(&deviceID, "device-id", "dev-device", "device id placed in proofs")
	cmd.Flags().StringVar(&pqScheme, "pq-scheme", cryptoctx.DefaultPQScheme, "CIRCL signature scheme")
	return cmd
}

// devHolder answers bridge requests the way a credential holder does.
func devHolder(signer cryptoctx.Runtime, userID, deviceID string, now func() time.Time) bridge.Handler {
	return func(ctx context.Context, req bridge.Message) (bridge.Message, bool) {
		action, data, err := bridge.ParseRequest(req)
		if err != nil {
			return bridge.ReplyError(req, err.Error()), true
		}

		var payload any
		switch action {
		case bridge.ActionPing:
			payload = map[string]any{"ok": true}
		case bridge.ActionRequestChallenge:
			var p challenge.Params
			if err := json.Unmarshal(data, &p); err != nil {
				return bridge.ReplyError(req, "invalid challenge params"), true
			}
			proof, err := devProof(ctx, signer, p, userID, deviceID, now())
			if err != nil {
				return bridge.ReplyError(req, err.Error()), true
			}
			payload = map[string]any{"ok": true, "data": map[string]any{"qaProof": proof}}
		default:
			return bridge.ReplyError(req, fmt.Sprintf("unknown action %q", action)), true
		}

		reply, err := bridge.Reply(req, payload)
		if err != nil {
			return bridge.ReplyError(req, err.Error()), true
		}
		return reply, true
	}
}

func devProof(ctx context.Context, signer cryptoctx.Runtime, p challenge.Params, userID, deviceID string, at time.Time) (challenge.Proof, error) {
	nonce, err := qacrypto.RandomBase64(16)
	if err != nil {
		return nil, errors.Wrap(err, "nonce")
	}
	ci := requests.CanonicalInput{
		Method:      p.Method,
		Path:        p.Path,
		Host:        p.BackendHost,
		TS:          at.Unix(),
		ChallengeID: uuid.NewString(),
		UserID:      userID,
		DeviceID:    deviceID,
	}
	sig, err := signer.SignPQB64(ctx, []byte(requests.CanonicalString(ci)))
	if err != nil {
		return nil, err
	}
	proof := challenge.Proof{
		headers.HeaderAuthorization.String():           headers.HeaderQuantumAuth + " " + sig,
		headers.HeaderQASignature.String():             sig,
		headers.HeaderQuantumAuthChallengeID.String():  ci.ChallengeID,
		headers.HeaderQuantumAuthNonce.String():        nonce,
		headers.HeaderQuantumAuthCanonicalB64.String(): requests.EncodeCanonicalB64(ci),
		headers.HeaderQuantumAuthUserID.String():       userID,
		headers.HeaderQuantumAuthDeviceID.String():     deviceID,
	}
	if p.AppID != "" {
		proof[headers.HeaderQuantumAuthAppID.String()] = p.AppID
	}
	return proof, nil
}
