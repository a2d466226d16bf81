package operator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/radieske/rgs-transaction-core/internal/signer"
)

const maxResponseBytes = 1 << 20

var errIndeterminate = errors.New("indeterminate")

type Options struct {
	Code       string
	Format     string
	BaseURL    string
	Secret     string
	APIKey     string
	Timeout    time.Duration
	BetPolicy  Policy // bet, rollback e authenticate
	WinPolicy  Policy
	HTTPClient *http.Client
	Metrics    *Metrics
}

// Client é o Adapter HTTP de um operador
type Client struct {
	code    string
	baseURL string
	wire    wire
	signer  *signer.Signer
	http    *http.Client
	bet     Policy
	win     Policy
	log     *zap.Logger
	metrics *Metrics
}

func New(opts Options, log *zap.Logger) (*Client, error) {
	w, err := newWire(opts.Format, opts.APIKey)
	if err != nil {
		return nil, err
	}
	if opts.BaseURL == "" || opts.Secret == "" {
		return nil, fmt.Errorf("operator %s: base url and secret are required", opts.Code)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		code:    opts.Code,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		wire:    w,
		signer:  signer.New(opts.Secret),
		http:    hc,
		bet:     normalize(opts.BetPolicy, opts.Timeout),
		win:     normalize(opts.WinPolicy, opts.Timeout),
		log:     log.With(zap.String("operator", opts.Code), zap.String("format", w.format())),
		metrics: opts.Metrics,
	}, nil
}

func normalize(p Policy, timeout time.Duration) Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 100 * time.Millisecond
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = timeout
	}
	return p
}

func (c *Client) Code() string { return c.code }

func (c *Client) Authenticate(ctx context.Context, token string) (Player, Result) {
	var player Player
	res := c.retry(ctx, OpAuthenticate, "", c.bet, func(ctx context.Context) Result {
		status, raw, err := c.post(ctx, OpAuthenticate, c.wire.authBody(token))
		res := c.classify(status, raw, err)
		if res.Outcome != Confirmed {
			return res
		}
		p, err := c.wire.decodeAuth(raw)
		if err != nil {
			return Result{Outcome: Indeterminate, Reason: "undecodable response: " + err.Error()}
		}
		player = p
		res.Balance = p.Balance
		return res
	})
	return player, res
}

func (c *Client) Bet(ctx context.Context, req TxnRequest) Result {
	return c.txn(ctx, OpBet, req, c.bet)
}

// Win usa a política longa: deixar de creditar um prêmio é pior do que atrasá-lo
func (c *Client) Win(ctx context.Context, req TxnRequest) Result {
	return c.txn(ctx, OpWin, req, c.win)
}

func (c *Client) Rollback(ctx context.Context, req TxnRequest) Result {
	return c.txn(ctx, OpRollback, req, c.bet)
}

func (c *Client) txn(ctx context.Context, op Op, req TxnRequest, p Policy) Result {
	body := c.wire.txnBody(op, req)
	return c.retry(ctx, op, req.TransactionID, p, func(ctx context.Context) Result {
		status, raw, err := c.post(ctx, op, body)
		res := c.classify(status, raw, err)
		if res.Outcome != Confirmed {
			return res
		}
		balance, ref, err := c.wire.decodeTxn(raw)
		if err != nil {
			return Result{Outcome: Indeterminate, Reason: "undecodable response: " + err.Error()}
		}
		res.Balance = balance
		res.OperatorTxnID = ref
		return res
	})
}

// retry repete attempt enquanto o resultado for Indeterminate, dentro da política
func (c *Client) retry(ctx context.Context, op Op, txnID string, p Policy, attempt func(context.Context) Result) Result {
	var (
		last     = Result{Outcome: Indeterminate, Reason: "no attempt made"}
		attempts int
	)

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0.2,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}
	b.Reset()

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("operator call indeterminate, retrying",
				zap.String("op", string(op)),
				zap.String("transaction_id", txnID),
				zap.Int("attempt", attempts),
				zap.Duration("next_in", next),
				zap.String("reason", last.Reason),
			)
		}),
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}

	_, _ = backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		start := time.Now()
		last = attempt(actx)
		cancel()
		c.metrics.observe(c.code, op, last.Outcome, time.Since(start))

		if last.Outcome == Indeterminate {
			return struct{}{}, errIndeterminate
		}
		return struct{}{}, nil
	}, opts...)

	last.Attempts = attempts
	if last.Outcome == Indeterminate {
		c.log.Error("operator call exhausted retries",
			zap.String("op", string(op)),
			zap.String("transaction_id", txnID),
			zap.Int("attempts", attempts),
			zap.String("reason", last.Reason),
		)
	}
	return last
}

// post assina o corpo canônico e envia uma única tentativa
func (c *Client) post(ctx context.Context, op Op, body any) (int, []byte, error) {
	raw, sig, err := c.signer.SignValue(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.wire.path(op), bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.wire.headers(req.Header, sig)

	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	out, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, out, nil
}

// classify separa o que é definitivo do que é incerto. Só 2xx e 4xx (menos 408/429)
// são respostas definitivas; o resto pode ou não ter aplicado o efeito.
func (c *Client) classify(status int, raw []byte, err error) Result {
	switch {
	case err != nil:
		return Result{Outcome: Indeterminate, Reason: err.Error()}
	case status >= 200 && status < 300:
		return Result{Outcome: Confirmed}
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return Result{Outcome: Indeterminate, Reason: fmt.Sprintf("operator http %d", status)}
	case status == http.StatusUnauthorized:
		_, reason := c.wire.decodeError(raw)
		return Result{Outcome: Rejected, Code: CodeInvalidSignature, Reason: reason}
	case status >= 400:
		code, reason := c.wire.decodeError(raw)
		if code == "" {
			code = CodeRejected
		}
		if reason == "" {
			reason = fmt.Sprintf("operator http %d", status)
		}
		return Result{Outcome: Rejected, Code: code, Reason: reason}
	default:
		return Result{Outcome: Indeterminate, Reason: fmt.Sprintf("unexpected http %d", status)}
	}
}
