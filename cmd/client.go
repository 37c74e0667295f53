package cmd

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jmehdipour/oob-signer/internal/channel"
	"github.com/jmehdipour/oob-signer/internal/config"
	"github.com/jmehdipour/oob-signer/internal/logger"
	"github.com/jmehdipour/oob-signer/internal/model"
	"github.com/jmehdipour/oob-signer/internal/poller"
	"github.com/jmehdipour/oob-signer/internal/presenter"
	"github.com/jmehdipour/oob-signer/internal/wallet"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	clientAddress string
	clientTxs     []string
)

func newAdapter() (*wallet.Adapter, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.Init(cfg.Log.Level, "console")

	sc := cfg.Signer
	ch := channel.NewHTTPChannel(sc.BaseURL, sc.ActionURL, sc.TimeoutMs, sc.Breaker.FailThreshold, sc.Breaker.OpenForMs)
	p := poller.New(ch, poller.Config{
		Interval:    cfg.Poll.Interval,
		MaxAttempts: cfg.Poll.MaxAttempts,
		RoutesInApp: sc.InAppRouting,
	}, log.Named("poller"))
	p.OnTransientError = func(attempt int, err error) {
		log.Debug("poll attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}

	a := wallet.New(wallet.Config{
		Chain:      sc.Chain,
		Origin:     sc.Origin,
		Redirect:   sc.Redirect,
		Preconnect: sc.Preconnect,
	}, ch, p, presenter.Log{L: log}, log.Named("wallet"))

	log.Debug("client ready",
		zap.String("base_url", sc.BaseURL),
		zap.Duration("budget", cfg.Poll.Budget()),
	)
	return a, nil
}

// attach resumes --address when given, otherwise runs a connect round trip.
func attach(cmd *cobra.Command, a *wallet.Adapter) error {
	if clientAddress != "" {
		_, err := a.Resume(clientAddress)
		return err
	}
	w, rc, err := a.Connect(cmd.Context())
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("no wallet connected (%s)", rc.State)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Ask the companion signer for its account",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAdapter()
		if err != nil {
			return err
		}
		w, rc, err := a.Connect(cmd.Context())
		if err != nil {
			return err
		}
		if w == nil {
			return fmt.Errorf("no wallet connected (%s after %d attempts)", rc.State, rc.Attempts)
		}
		return printJSON(map[string]any{
			"address":    w.Address,
			"session_id": w.SessionID,
			"chain":      w.Chain.String(),
		})
	},
}

var signMessageCmd = &cobra.Command{
	Use:   "sign-message <message>",
	Short: "Have the companion sign a UTF-8 message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAdapter()
		if err != nil {
			return err
		}
		if err := attach(cmd, a); err != nil {
			return err
		}
		sig, rc, err := a.SignMessage(cmd.Context(), []byte(args[0]))
		if err != nil {
			return err
		}
		if !rc.OK() {
			return fmt.Errorf("no signature (%s after %d attempts)", rc.State, rc.Attempts)
		}
		return printJSON(map[string]any{"signature": sig, "session_id": rc.SessionID})
	},
}

var signTxCmd = &cobra.Command{
	Use:   "sign-tx",
	Short: "Have the companion sign serialized transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		txs, err := parseTxFlags(clientTxs)
		if err != nil {
			return err
		}
		a, err := newAdapter()
		if err != nil {
			return err
		}
		if err := attach(cmd, a); err != nil {
			return err
		}
		signed, rc, err := a.SignAllTransactions(cmd.Context(), txs)
		if err != nil {
			return err
		}
		if !rc.OK() {
			return fmt.Errorf("no signed transactions (%s after %d attempts)", rc.State, rc.Attempts)
		}

		out := make([]map[string]string, 0, len(signed))
		for _, tx := range signed {
			out = append(out, map[string]string{
				"kind": tx.Kind.String(),
				"data": base64.StdEncoding.EncodeToString(tx.Raw),
			})
		}
		return printJSON(map[string]any{"transactions": out, "session_id": rc.SessionID})
	},
}

// parseTxFlags reads "legacy:<base64>" or "versioned:<base64>" values.
func parseTxFlags(vals []string) ([]model.Transaction, error) {
	if len(vals) == 0 {
		return nil, fmt.Errorf("at least one --tx is required")
	}
	txs := make([]model.Transaction, 0, len(vals))
	for _, v := range vals {
		kind, data, ok := strings.Cut(v, ":")
		if !ok {
			return nil, fmt.Errorf("bad --tx %q: want kind:base64", v)
		}
		var k model.BlobKind
		switch strings.ToLower(kind) {
		case "legacy":
			k = model.BlobLegacy
		case "versioned":
			k = model.BlobVersioned
		default:
			return nil, fmt.Errorf("bad --tx %q: unknown kind %q", v, kind)
		}
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("bad --tx %q: %w", v, err)
		}
		txs = append(txs, model.Transaction{Kind: k, Raw: raw})
	}
	return txs, nil
}

func init() {
	for _, c := range []*cobra.Command{signMessageCmd, signTxCmd} {
		c.Flags().StringVar(&clientAddress, "address", "", "already known wallet address; skips connect")
	}
	signTxCmd.Flags().StringArrayVar(&clientTxs, "tx", nil, "transaction as kind:base64 (repeatable)")
}
