// Package lnd implements lightning.Node and claim.Wallet against a real lnd
// node, dialed over gRPC with TLS + macaroon auth.
package lnd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lnswap/swapd/internal/lightning"
)

var zeroPreimageHex = hex.EncodeToString(make([]byte, 32))

// Client is a lightning.Node and claim.Wallet backed by a running lnd
// instance. Every payment this client dispatches resets mission control
// first (matching the teacher's pay handler), since a stale failure history
// can make an otherwise-routable payment look impossible.
type Client struct {
	network *chaincfg.Params
	conn    *grpc.ClientConn
	repo    Repository
}

var _ lightning.Node = (*Client)(nil)

// NewClient dials lnd and returns a ready-to-use Client.
func NewClient(cfg Config, network *chaincfg.Params, repo Repository) (*Client, error) {
	conn, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{network: network, conn: conn, repo: repo}, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) lightningClient() lnrpc.LightningClient {
	return lnrpc.NewLightningClient(c.conn)
}

func (c *Client) routerClient() routerrpc.RouterClient {
	return routerrpc.NewRouterClient(c.conn)
}

// Pay dispatches req.Bolt11 and blocks until lnd reports a terminal status.
// The payment's lnd-assigned payment_index is recorded against req.Label as
// soon as it's known, so GetPaymentState can resolve the label back to a
// ListPayments cursor later without rescanning the whole history.
func (c *Client) Pay(ctx context.Context, req lightning.PaymentRequest) (*lightning.PaymentOutcome, error) {
	router := c.routerClient()

	if _, err := router.ResetMissionControl(ctx, &routerrpc.ResetMissionControlRequest{}); err != nil {
		return nil, fmt.Errorf("lnd: reset mission control: %w", err)
	}

	stream, err := router.SendPaymentV2(ctx, &routerrpc.SendPaymentRequest{
		PaymentRequest: req.Bolt11,
		FeeLimitMsat:   req.FeeLimitMsat,
		TimeoutSeconds: int32(req.TimeoutSeconds),
		CltvLimit:      int32(req.CltvLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("lnd: send payment: %w", err)
	}

	labelRecorded := false
	for {
		update, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("lnd: payment update stream: %w", err)
		}

		if !labelRecorded {
			labelRecorded = true
			if err := c.repo.AddLabel(ctx, req.Label, uint64(update.PaymentIndex)); err != nil {
				slog.Error("lnd: failed to record payment label", "label", req.Label, "error", err)
			}
		}

		switch update.Status {
		case lnrpc.Payment_SUCCEEDED:
			preimage, err := decodePreimageHex(update.PaymentPreimage)
			if err != nil {
				return nil, fmt.Errorf("lnd: %w", err)
			}
			return &lightning.PaymentOutcome{Success: true, Preimage: &preimage}, nil
		case lnrpc.Payment_FAILED:
			return &lightning.PaymentOutcome{Success: false, Error: update.FailureReason.String()}, nil
		default:
			// IN_FLIGHT, INITIATED, UNKNOWN: keep waiting for a final update.
		}
	}

	return nil, fmt.Errorf("lnd: payment stream ended without a final status")
}

// GetPreimage tracks paymentHash directly (bypassing the label index, since
// the caller may not know which label/attempt ultimately settled it) and
// reports the preimage if lnd has one on file.
func (c *Client) GetPreimage(ctx context.Context, paymentHash chainhash.Hash) (*lightning.PreimageResult, error) {
	router := c.routerClient()
	stream, err := router.TrackPaymentV2(ctx, &routerrpc.TrackPaymentRequest{
		PaymentHash:       paymentHash[:],
		NoInflightUpdates: false,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("lnd: track payment: %w", err)
	}

	update, err := stream.Recv()
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("lnd: track payment stream: %w", err)
	}

	if update.PaymentPreimage == "" || update.PaymentPreimage == zeroPreimageHex {
		return nil, nil
	}
	preimage, err := decodePreimageHex(update.PaymentPreimage)
	if err != nil {
		return nil, fmt.Errorf("lnd: %w", err)
	}

	label, err := c.repo.GetLabel(ctx, uint64(update.PaymentIndex))
	if err != nil {
		if errors.Is(err, ErrLabelNotFound) {
			// No local record of which attempt this payment_index belongs to
			// (most often this process dispatched the payment but crashed
			// before recording the label). The historical monitor resolves
			// this same payment hash against its known label, via
			// GetPaymentState; persisting a result under an empty label here
			// would only fail payment_results' foreign key on label every
			// poll, so leave it for that path instead.
			return nil, nil
		}
		return nil, fmt.Errorf("lnd: get label: %w", err)
	}
	return &lightning.PreimageResult{Label: label, Preimage: preimage}, nil
}

// GetPaymentState resolves label to lnd's payment_index and looks the
// payment up via ListPayments; if the label was never recorded (this
// process never dispatched it, or the record was lost) it falls back to
// tracking by paymentHash directly, same as GetPreimage.
func (c *Client) GetPaymentState(ctx context.Context, paymentHash chainhash.Hash, label string) (*lightning.PaymentStateResult, error) {
	var payment *lnrpc.Payment

	paymentIndex, err := c.repo.GetPaymentIndex(ctx, label)
	switch {
	case err == nil:
		// IndexOffset is exclusive, so start one below the recorded index to
		// get the recorded payment itself back first.
		offset := paymentIndex
		if offset > 0 {
			offset--
		}
		lightningClient := c.lightningClient()
		resp, err := lightningClient.ListPayments(ctx, &lnrpc.ListPaymentsRequest{
			IncludeIncomplete: true,
			IndexOffset:       offset,
			MaxPayments:       1,
		})
		if err != nil {
			return nil, fmt.Errorf("lnd: list payments: %w", err)
		}
		if len(resp.Payments) > 0 {
			payment = resp.Payments[0]
		}
	case errors.Is(err, ErrLabelNotFound):
		// Fall through to the track-by-hash path below.
	default:
		return nil, fmt.Errorf("lnd: get payment index: %w", err)
	}

	if payment == nil {
		router := c.routerClient()
		stream, err := router.TrackPaymentV2(ctx, &routerrpc.TrackPaymentRequest{
			PaymentHash:       paymentHash[:],
			NoInflightUpdates: false,
		})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, lightning.ErrPaymentNotFound
			}
			return nil, fmt.Errorf("lnd: track payment: %w", err)
		}
		update, err := stream.Recv()
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, lightning.ErrPaymentNotFound
			}
			return nil, fmt.Errorf("lnd: track payment stream: %w", err)
		}
		payment = &lnrpc.Payment{
			Status:          update.Status,
			PaymentPreimage: update.PaymentPreimage,
			FailureReason:   update.FailureReason,
		}
	}

	return mapPaymentState(payment)
}

func mapPaymentState(payment *lnrpc.Payment) (*lightning.PaymentStateResult, error) {
	switch payment.Status {
	case lnrpc.Payment_SUCCEEDED:
		preimage, err := decodePreimageHex(payment.PaymentPreimage)
		if err != nil {
			return nil, fmt.Errorf("lnd: %w", err)
		}
		return &lightning.PaymentStateResult{State: lightning.PaymentStateSuccess, Preimage: &preimage}, nil
	case lnrpc.Payment_FAILED:
		return &lightning.PaymentStateResult{State: lightning.PaymentStateFailure, Error: payment.FailureReason.String()}, nil
	default:
		return &lightning.PaymentStateResult{State: lightning.PaymentStatePending}, nil
	}
}

func decodePreimageHex(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid preimage %q: %w", s, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("invalid preimage length %q: got %d bytes, want 32", s, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
